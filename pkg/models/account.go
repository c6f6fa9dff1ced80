package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is one financial account under an item. Accounts are deactivated when
// the provider stops reporting them, never deleted; a re-link may reassign a new
// external id onto an existing row matched by (type, subtype, mask).
type Account struct {
	ID                string           `json:"id" db:"id"`
	ItemID            string           `json:"item_id" db:"item_id"`
	ExternalAccountID string           `json:"external_account_id" db:"external_account_id"`
	Name              string           `json:"name" db:"name"`
	OfficialName      *string          `json:"official_name,omitempty" db:"official_name"`
	Type              string           `json:"type" db:"type"`
	Subtype           string           `json:"subtype" db:"subtype"`
	Mask              *string          `json:"mask,omitempty" db:"mask"`
	CurrentBalance    *decimal.Decimal `json:"current_balance,omitempty" db:"current_balance"`
	AvailableBalance  *decimal.Decimal `json:"available_balance,omitempty" db:"available_balance"`
	CurrencyCode      *string          `json:"currency_code,omitempty" db:"currency_code"`
	IsActive          bool             `json:"is_active" db:"is_active"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}
