package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus tags the last sweep operation that touched a row.
type TransactionStatus string

const (
	TransactionStatusAdded    TransactionStatus = "added"
	TransactionStatusModified TransactionStatus = "modified"
	TransactionStatusRemoved  TransactionStatus = "removed"
)

// Transaction is one ledger entry under an account. The internal id is durable
// across the pending-to-posted transition: when a pending transaction posts, the
// same row is rewritten with the posted external id so downstream annotations
// keep pointing at it.
type Transaction struct {
	ID                    string            `json:"id" db:"id"`
	AccountID             string            `json:"account_id" db:"account_id"`
	ExternalTransactionID string            `json:"external_transaction_id" db:"external_transaction_id"`
	Date                  time.Time         `json:"date" db:"date"`
	AuthorizedDate        *time.Time        `json:"authorized_date,omitempty" db:"authorized_date"`
	Amount                decimal.Decimal   `json:"amount" db:"amount"`
	CurrencyCode          *string           `json:"currency_code,omitempty" db:"currency_code"`
	Name                  string            `json:"name" db:"name"`
	MerchantName          *string           `json:"merchant_name,omitempty" db:"merchant_name"`
	Pending               bool              `json:"pending" db:"pending"`
	IsTransfer            bool              `json:"is_transfer" db:"is_transfer"`
	IsRemoved             bool              `json:"is_removed" db:"is_removed"`
	IsArchived            bool              `json:"is_archived" db:"is_archived"`
	CategoryPrimary       *string           `json:"category_primary,omitempty" db:"category_primary"`
	CategoryDetailed      *string           `json:"category_detailed,omitempty" db:"category_detailed"`
	CategoryConfidence    float64           `json:"category_confidence" db:"category_confidence"`
	PaymentChannel        *string           `json:"payment_channel,omitempty" db:"payment_channel"`
	TransactionCode       *string           `json:"transaction_code,omitempty" db:"transaction_code"`
	Status                TransactionStatus `json:"status" db:"status"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
}
