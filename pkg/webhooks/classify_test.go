package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		payload  models.WebhookPayload
		expected Category
	}{
		{
			name:     "session finished",
			payload:  models.WebhookPayload{Type: "SESSION", Code: "SESSION_FINISHED"},
			expected: CategorySessionCompleted,
		},
		{
			name:     "login required",
			payload:  models.WebhookPayload{Type: "ITEM", Code: "LOGIN_REQUIRED"},
			expected: CategoryLoginRequired,
		},
		{
			name:     "pending expiration treated as login required",
			payload:  models.WebhookPayload{Type: "ITEM", Code: "PENDING_EXPIRATION"},
			expected: CategoryLoginRequired,
		},
		{
			name: "error wrapping item login required",
			payload: models.WebhookPayload{
				Type: "ITEM", Code: "ERROR",
				Error: &models.WebhookError{Code: "ITEM_LOGIN_REQUIRED"},
			},
			expected: CategoryLoginRequired,
		},
		{
			name: "error wrapping permission revoked",
			payload: models.WebhookPayload{
				Type: "ITEM", Code: "ERROR",
				Error: &models.WebhookError{Code: "USER_PERMISSION_REVOKED"},
			},
			expected: CategoryPermissionsRevoked,
		},
		{
			name: "error with unrecognized nested code",
			payload: models.WebhookPayload{
				Type: "ITEM", Code: "ERROR",
				Error: &models.WebhookError{Code: "INSTITUTION_DOWN"},
			},
			expected: CategoryError,
		},
		{
			name:     "error with no nested envelope",
			payload:  models.WebhookPayload{Type: "ITEM", Code: "ERROR"},
			expected: CategoryError,
		},
		{
			name:     "login repaired",
			payload:  models.WebhookPayload{Type: "ITEM", Code: "LOGIN_REPAIRED"},
			expected: CategoryLoginRepaired,
		},
		{
			name:     "account revoked",
			payload:  models.WebhookPayload{Type: "ITEM", Code: "USER_ACCOUNT_REVOKED"},
			expected: CategoryAccountRevoked,
		},
		{
			name:     "new accounts available",
			payload:  models.WebhookPayload{Type: "ITEM", Code: "NEW_ACCOUNTS_AVAILABLE"},
			expected: CategoryNewAccountsAvailable,
		},
		{
			name:     "sync updates available",
			payload:  models.WebhookPayload{Type: "TRANSACTIONS", Code: "SYNC_UPDATES_AVAILABLE"},
			expected: CategorySyncUpdatesAvailable,
		},
		{
			name:     "unknown code",
			payload:  models.WebhookPayload{Type: "ITEM", Code: "SOME_FUTURE_CODE"},
			expected: CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(&tt.payload))
		})
	}
}
