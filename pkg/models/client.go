package models

import "time"

// ClientSyncStatus summarizes the freshest connection state across a client's items.
type ClientSyncStatus string

const (
	ClientSyncStatusNeverLinked ClientSyncStatus = "never_linked"
	ClientSyncStatusHealthy     ClientSyncStatus = "healthy"
	ClientSyncStatusDegraded    ClientSyncStatus = "degraded"
)

// Client is one of the practice's customers. Rows are created by the CRUD surface;
// the sync engine only ever reads them.
type Client struct {
	ID         string           `json:"id" db:"id"`
	FirstName  string           `json:"first_name" db:"first_name"`
	LastName   string           `json:"last_name" db:"last_name"`
	Email      *string          `json:"email,omitempty" db:"email"`
	SyncStatus ClientSyncStatus `json:"sync_status" db:"sync_status"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" db:"updated_at"`
}
