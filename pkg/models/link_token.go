package models

import "time"

// LinkTokenStatus is the lifecycle state of one linking attempt.
type LinkTokenStatus string

const (
	LinkTokenStatusPending LinkTokenStatus = "pending"
	LinkTokenStatusUsed    LinkTokenStatus = "used"
)

// LinkToken is the ephemeral record of one linking attempt. It is marked used
// exactly once, after a session-completion event has been fully processed, and
// is never reused.
type LinkToken struct {
	ID                string          `json:"id" db:"id"`
	Token             string          `json:"token" db:"token"`
	ClientID          string          `json:"client_id" db:"client_id"`
	Status            LinkTokenStatus `json:"status" db:"status"`
	LastSessionStatus *string         `json:"last_session_status,omitempty" db:"last_session_status"`
	LastSessionError  *string         `json:"last_session_error,omitempty" db:"last_session_error"`
	HostedURL         *string         `json:"hosted_url,omitempty" db:"hosted_url"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// CreateLinkSessionRequest starts a linking attempt for a client.
type CreateLinkSessionRequest struct {
	ClientID string `json:"client_id" validate:"required"`
	// UpdateItemID, when set, opens the session in update mode for an existing
	// connection (re-auth or account selection).
	UpdateItemID string `json:"update_item_id,omitempty"`
}

// LinkSessionResponse is returned to the caller that starts a linking attempt.
type LinkSessionResponse struct {
	Token     string     `json:"token"`
	HostedURL string     `json:"hosted_url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
