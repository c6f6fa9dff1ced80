package webhooks

import "github.com/MeadeCPA-Ocrolus/banklink/pkg/models"

// Category is the internal routing bucket an inbound event resolves to.
type Category string

const (
	CategorySessionCompleted      Category = "session_completed"
	CategoryLoginRequired         Category = "login_required"
	CategoryError                 Category = "error"
	CategoryLoginRepaired         Category = "login_repaired"
	CategoryPermissionsRevoked    Category = "permissions_revoked"
	CategoryAccountRevoked        Category = "account_revoked"
	CategoryNewAccountsAvailable  Category = "new_accounts_available"
	CategorySyncUpdatesAvailable  Category = "sync_updates_available"
	CategoryUnknown               Category = "unknown"
)

// Provider event codes. The ERROR code is a wrapper; the real reason sits in
// the nested error envelope.
const (
	codeSessionFinished      = "SESSION_FINISHED"
	codeLoginRequired        = "LOGIN_REQUIRED"
	codePendingExpiration    = "PENDING_EXPIRATION"
	codeError                = "ERROR"
	codeLoginRepaired        = "LOGIN_REPAIRED"
	codeUserAccountRevoked   = "USER_ACCOUNT_REVOKED"
	codeNewAccountsAvailable = "NEW_ACCOUNTS_AVAILABLE"
	codeSyncUpdatesAvailable = "SYNC_UPDATES_AVAILABLE"

	errCodeItemLoginRequired     = "ITEM_LOGIN_REQUIRED"
	errCodeUserPermissionRevoked = "USER_PERMISSION_REVOKED"
)

// Classify maps a payload's type/code pair onto a routing category. Codes this
// service has no handling for resolve to CategoryUnknown rather than an error;
// providers add codes without notice.
func Classify(p *models.WebhookPayload) Category {
	switch p.Code {
	case codeSessionFinished:
		return CategorySessionCompleted
	case codeLoginRequired, codePendingExpiration:
		return CategoryLoginRequired
	case codeLoginRepaired:
		return CategoryLoginRepaired
	case codeUserAccountRevoked:
		return CategoryAccountRevoked
	case codeNewAccountsAvailable:
		return CategoryNewAccountsAvailable
	case codeSyncUpdatesAvailable:
		return CategorySyncUpdatesAvailable
	case codeError:
		if p.Error != nil {
			switch p.Error.Code {
			case errCodeItemLoginRequired:
				return CategoryLoginRequired
			case errCodeUserPermissionRevoked:
				return CategoryPermissionsRevoked
			}
		}
		return CategoryError
	default:
		return CategoryUnknown
	}
}
