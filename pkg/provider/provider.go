// Package provider abstracts the account-aggregation service the items are
// linked through.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrSyncMutationDuringPagination signals the provider's transient consistency
	// failure: the underlying transaction data changed while a sweep was paging.
	// Callers restart the sweep from the cursor that was current before it began.
	ErrSyncMutationDuringPagination = errors.New("transaction data mutated during pagination")

	// ErrInvalidCredential means the durable credential was revoked or never valid.
	ErrInvalidCredential = errors.New("provider credential is invalid")
)

// Credential is the durable secret used to call the provider on behalf of a
// linked item. It only ever touches persistent storage in encrypted form.
type Credential string

// ExchangeResult is the outcome of trading a temporary session token for a
// durable credential.
type ExchangeResult struct {
	Credential     Credential `json:"credential"`
	ExternalItemID string     `json:"external_item_id"`
}

// ItemMetadata describes the institution behind a credential.
type ItemMetadata struct {
	ExternalItemID  string `json:"external_item_id"`
	InstitutionID   string `json:"institution_id"`
	InstitutionName string `json:"institution_name"`
}

// Account is the provider's view of one financial account.
type Account struct {
	ExternalAccountID string           `json:"external_account_id"`
	Name              string           `json:"name"`
	OfficialName      *string          `json:"official_name,omitempty"`
	Type              string           `json:"type"`
	Subtype           string           `json:"subtype"`
	Mask              *string          `json:"mask,omitempty"`
	CurrentBalance    *decimal.Decimal `json:"current_balance,omitempty"`
	AvailableBalance  *decimal.Decimal `json:"available_balance,omitempty"`
	CurrencyCode      *string          `json:"currency_code,omitempty"`
}

// Category carries the provider's enrichment for a transaction. Confidence is
// an ordinal scale: VERY_HIGH, HIGH, MEDIUM, LOW or UNKNOWN.
type Category struct {
	Primary    string `json:"primary"`
	Detailed   string `json:"detailed"`
	Confidence string `json:"confidence"`
}

// Transaction is one added or modified entry in a sync delta.
type Transaction struct {
	ExternalTransactionID string          `json:"external_transaction_id"`
	ExternalAccountID     string          `json:"external_account_id"`
	Date                  time.Time       `json:"date"`
	AuthorizedDate        *time.Time      `json:"authorized_date,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	CurrencyCode          *string         `json:"currency_code,omitempty"`
	Name                  string          `json:"name"`
	MerchantName          *string         `json:"merchant_name,omitempty"`
	Pending               bool            `json:"pending"`
	// PendingTransactionID names the pending predecessor this posted entry
	// replaces, when the provider reports the transition in one sweep.
	PendingTransactionID string    `json:"pending_transaction_id,omitempty"`
	Category             *Category `json:"category,omitempty"`
	PaymentChannel       *string   `json:"payment_channel,omitempty"`
	TransactionCode      *string   `json:"transaction_code,omitempty"`
}

// RemovedTransaction is one removal entry in a sync delta.
type RemovedTransaction struct {
	ExternalTransactionID string `json:"external_transaction_id"`
	ExternalAccountID     string `json:"external_account_id"`
}

// SyncPage is one page of the provider's transaction delta feed.
type SyncPage struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	HasMore    bool                 `json:"has_more"`
	NextCursor string               `json:"next_cursor"`
}

// LinkSession is a hosted linking attempt created for a client.
type LinkSession struct {
	SessionToken string     `json:"session_token"`
	HostedURL    string     `json:"hosted_url"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// SessionContext parameterizes link session creation.
type SessionContext struct {
	ClientID string
	// UpdateExternalItemID opens the session in update mode for an existing
	// connection, with account selection enabled.
	UpdateExternalItemID string
	WebhookURL           string
	RedirectURL          string
}

// Client is the set of remote operations the sync engine depends on.
type Client interface {
	// ExchangeToken trades a temporary session token for a durable credential.
	ExchangeToken(ctx context.Context, temporaryToken string) (*ExchangeResult, error)
	// GetItem fetches institution metadata for a credential.
	GetItem(ctx context.Context, credential Credential) (*ItemMetadata, error)
	// GetAccounts fetches the current account list for a credential.
	GetAccounts(ctx context.Context, credential Credential) ([]Account, error)
	// SyncTransactions pages the delta feed. A nil cursor starts from the beginning.
	SyncTransactions(ctx context.Context, credential Credential, cursor *string) (*SyncPage, error)
	// RevokeCredential invalidates a credential at the provider. Best effort;
	// some institutions auto-invalidate the old credential on re-link anyway.
	RevokeCredential(ctx context.Context, credential Credential) error
	// CreateLinkSession opens a hosted linking session for a client.
	CreateLinkSession(ctx context.Context, sctx SessionContext) (*LinkSession, error)
	// FireTestWebhook asks the provider to deliver a test event. Non-production only.
	FireTestWebhook(ctx context.Context, credential Credential, code string) error
}
