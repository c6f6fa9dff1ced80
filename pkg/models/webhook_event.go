package models

import (
	"encoding/json"
	"time"
)

// WebhookEvent is one row of the append-only inbound event log. The fingerprint
// is unique; a second delivery with the same fingerprint is short-circuited
// without side effects.
type WebhookEvent struct {
	ID                string          `json:"id" db:"id"`
	Type              string          `json:"type" db:"type"`
	Code              string          `json:"code" db:"code"`
	ExternalItemID    *string         `json:"external_item_id,omitempty" db:"external_item_id"`
	ExternalAccountID *string         `json:"external_account_id,omitempty" db:"external_account_id"`
	ItemID            *string         `json:"item_id,omitempty" db:"item_id"`
	SessionID         *string         `json:"session_id,omitempty" db:"session_id"`
	Fingerprint       string          `json:"fingerprint" db:"fingerprint"`
	RawPayload        json.RawMessage `json:"raw_payload" db:"raw_payload"`
	Processed         bool            `json:"processed" db:"processed"`
	ErrorMessage      *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// WebhookPayload is the inbound delivery body. Only type and code are mandatory;
// everything else depends on the event family.
type WebhookPayload struct {
	Type              string           `json:"type" validate:"required"`
	Code              string           `json:"code" validate:"required"`
	ItemExternalID    string           `json:"item_external_id,omitempty"`
	AccountExternalID string           `json:"account_external_id,omitempty"`
	Error             *WebhookError    `json:"error,omitempty"`
	LinkToken         string           `json:"link_token,omitempty"`
	TemporaryToken    string           `json:"temporary_token,omitempty"`
	TemporaryTokens   []string         `json:"temporary_tokens,omitempty"`
	SessionID         string           `json:"session_id,omitempty"`
	SessionStatus     string           `json:"session_status,omitempty"`
	Raw               json.RawMessage  `json:"-"`
}

// WebhookError is the nested reason envelope some providers wrap the real
// failure code in.
type WebhookError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Tokens returns every temporary token carried by the payload, preserving order.
func (p *WebhookPayload) Tokens() []string {
	if len(p.TemporaryTokens) > 0 {
		return p.TemporaryTokens
	}
	if p.TemporaryToken != "" {
		return []string{p.TemporaryToken}
	}
	return nil
}
