package models

import "time"

// ItemStatus is the lifecycle state of a bank connection.
type ItemStatus string

const (
	ItemStatusActive        ItemStatus = "active"
	ItemStatusLoginRequired ItemStatus = "login_required"
	ItemStatusError         ItemStatus = "error"
	ItemStatusNeedsUpdate   ItemStatus = "needs_update"
	ItemStatusArchived      ItemStatus = "archived"
)

// Item is one authorized connection to one financial institution for one client.
// At most one non-archived item exists per (client_id, institution_id); the
// provider-assigned external id is unique among non-archived items. Items are
// archived, never deleted, and a later link at the same institution restores them.
type Item struct {
	ID                  string     `json:"id" db:"id"`
	ClientID            string     `json:"client_id" db:"client_id"`
	ExternalItemID      *string    `json:"external_item_id,omitempty" db:"external_item_id"`
	InstitutionID       string     `json:"institution_id" db:"institution_id"`
	InstitutionName     string     `json:"institution_name" db:"institution_name"`
	EncryptedCredential string     `json:"-" db:"encrypted_credential"`
	CredentialKeyID     string     `json:"-" db:"credential_key_id"`
	Status              ItemStatus `json:"status" db:"status"`
	LastErrorCode       *string    `json:"last_error_code,omitempty" db:"last_error_code"`
	LastErrorMessage    *string    `json:"last_error_message,omitempty" db:"last_error_message"`
	HasSyncUpdates      bool       `json:"has_sync_updates" db:"has_sync_updates"`
	TransactionsCursor  *string    `json:"transactions_cursor,omitempty" db:"transactions_cursor"`
	IsArchived          bool       `json:"is_archived" db:"is_archived"`
	LastSyncedAt        *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// CanSync reports whether the item's credential is usable for a ledger sweep.
func (i *Item) CanSync() bool {
	if i.IsArchived {
		return false
	}
	switch i.Status {
	case ItemStatusError, ItemStatusLoginRequired, ItemStatusArchived:
		return false
	}
	return true
}
