// Package status applies lifecycle events to linked connections.
package status

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/account"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/transaction"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/events"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/webhooks"
)

// Updater is the status state machine. Each event category maps to one
// transition on the item the event names.
type Updater struct {
	items    item.ItemRepository
	accounts account.AccountRepository
	txns     transaction.TransactionRepository
	emitter  *events.Emitter
	logger   ectologger.Logger

	// archiveTransactions controls whether a permissions revocation cascades
	// into the ledger. Off, revoked items keep their transaction history
	// readable; on, the sweep archives it with the item.
	archiveTransactions bool
}

// NewUpdater creates a new status updater
func NewUpdater(
	items item.ItemRepository,
	accounts account.AccountRepository,
	txns transaction.TransactionRepository,
	emitter *events.Emitter,
	archiveTransactions bool,
	logger ectologger.Logger,
) *Updater {
	return &Updater{
		items:               items,
		accounts:            accounts,
		txns:                txns,
		emitter:             emitter,
		archiveTransactions: archiveTransactions,
		logger:              logger,
	}
}

// Apply routes one categorized event onto the item it names. Events for items
// this side never stored are logged and dropped; the provider can race its own
// deliveries against a link completing.
func (u *Updater) Apply(ctx context.Context, category string, event *models.WebhookEvent, payload *models.WebhookPayload) error {
	ctx, span := tracing.StartSpan(ctx, "Updater.Apply")
	defer span.End()

	if payload.ItemExternalID == "" {
		return errors.Errorf("%s event carries no item id", category)
	}

	it, err := u.items.GetByExternalID(ctx, payload.ItemExternalID)
	if err != nil {
		return errors.Wrap(err, "failed to resolve item")
	}
	if it == nil {
		u.logger.WithContext(ctx).WithFields(map[string]any{
			"external_item_id": payload.ItemExternalID,
			"category":         category,
		}).Warn("event names an unknown item, dropping")
		return nil
	}

	switch webhooks.Category(category) {
	case webhooks.CategoryLoginRequired:
		return u.transition(ctx, it, models.ItemStatusLoginRequired, payload)
	case webhooks.CategoryError:
		return u.transition(ctx, it, models.ItemStatusError, payload)
	case webhooks.CategoryLoginRepaired:
		return u.transition(ctx, it, models.ItemStatusActive, payload)
	case webhooks.CategoryNewAccountsAvailable:
		return u.transition(ctx, it, models.ItemStatusNeedsUpdate, payload)
	case webhooks.CategoryPermissionsRevoked:
		return u.revokeItem(ctx, it)
	case webhooks.CategoryAccountRevoked:
		return u.revokeAccount(ctx, it, payload)
	case webhooks.CategorySyncUpdatesAvailable:
		return u.flagSyncUpdates(ctx, it)
	default:
		return errors.Errorf("no transition for category %q", category)
	}
}

func (u *Updater) transition(ctx context.Context, it *models.Item, status models.ItemStatus, payload *models.WebhookPayload) error {
	if it.Status == status {
		return nil
	}

	var errCode, errMsg *string
	if payload.Error != nil {
		errCode = &payload.Error.Code
		errMsg = &payload.Error.Message
	}

	if err := u.items.SetStatus(ctx, *it.ExternalItemID, status, errCode, errMsg); err != nil {
		return err
	}

	u.logger.WithContext(ctx).WithFields(map[string]any{
		"item_id": it.ID,
		"from":    string(it.Status),
		"to":      string(status),
	}).Info("item status changed")

	u.emitter.ItemStatusChanged(ctx, it.ClientID, it.ID, string(status))
	return nil
}

// revokeItem handles the full revocation cascade: the item is archived, its
// accounts go dormant, and when enabled the ledger is archived with it. Once
// the item itself is archived the event counts as handled; a failing sub-step
// is logged and left for the next sweep rather than re-driving the provider's
// retry loop against an already-revoked connection.
func (u *Updater) revokeItem(ctx context.Context, it *models.Item) error {
	ctx, span := tracing.StartSpan(ctx, "Updater.revokeItem")
	defer span.End()

	if err := u.items.Archive(ctx, it.ID); err != nil {
		return err
	}
	if err := u.accounts.DeactivateByItem(ctx, it.ID); err != nil {
		u.logger.WithContext(ctx).WithError(err).WithField("item_id", it.ID).Warn("could not deactivate accounts for revoked item")
	}

	if u.archiveTransactions {
		archived, err := u.txns.ArchiveByItem(ctx, it.ID)
		if err != nil {
			u.logger.WithContext(ctx).WithError(err).WithField("item_id", it.ID).Warn("could not archive transactions for revoked item")
		} else {
			u.logger.WithContext(ctx).WithFields(map[string]any{
				"item_id": it.ID,
				"count":   archived,
			}).Info("archived transactions for revoked item")
		}
	}

	u.logger.WithContext(ctx).WithField("item_id", it.ID).Info("item access revoked, connection archived")
	u.emitter.ItemStatusChanged(ctx, it.ClientID, it.ID, string(models.ItemStatusArchived))
	return nil
}

func (u *Updater) revokeAccount(ctx context.Context, it *models.Item, payload *models.WebhookPayload) error {
	ctx, span := tracing.StartSpan(ctx, "Updater.revokeAccount")
	defer span.End()

	if payload.AccountExternalID == "" {
		return errors.New("account revocation event carries no account id")
	}

	found, err := u.accounts.DeactivateByExternalID(ctx, it.ID, payload.AccountExternalID)
	if err != nil {
		return err
	}
	if !found {
		u.logger.WithContext(ctx).WithFields(map[string]any{
			"item_id":             it.ID,
			"external_account_id": payload.AccountExternalID,
		}).Warn("revocation names an unknown account")
		return nil
	}

	u.logger.WithContext(ctx).WithFields(map[string]any{
		"item_id":             it.ID,
		"external_account_id": payload.AccountExternalID,
	}).Info("account access revoked")
	return nil
}

func (u *Updater) flagSyncUpdates(ctx context.Context, it *models.Item) error {
	if err := u.items.SetHasSyncUpdates(ctx, *it.ExternalItemID, true); err != nil {
		return err
	}
	u.logger.WithContext(ctx).WithField("item_id", it.ID).Debug("sync updates flagged")
	return nil
}
