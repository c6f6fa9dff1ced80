// Package ledger runs cursor-based transaction sweeps against the provider's
// delta feed.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/account"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/transaction"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/events"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/metrics"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/provider"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/vault"
)

var (
	// ErrItemNotFound means the sweep named an item that does not exist.
	ErrItemNotFound = errors.New("item not found")
	// ErrItemArchived means the item was archived and cannot be swept.
	ErrItemArchived = errors.New("item is archived")
	// ErrItemNotSyncable means the item's credential is in an error or
	// re-auth state and a sweep would only fail at the provider.
	ErrItemNotSyncable = errors.New("item is not in a syncable state")
	// ErrNoActiveAccounts means the item has no active accounts to post
	// ledger entries under.
	ErrNoActiveAccounts = errors.New("item has no active accounts")
)

// Result summarizes one completed sweep.
type Result struct {
	ItemID   string `json:"item_id"`
	Added    int    `json:"added"`
	Modified int    `json:"modified"`
	Removed  int    `json:"removed"`
	Skipped  int    `json:"skipped"`
	Restarts int    `json:"restarts"`
	Cursor   string `json:"cursor"`

	// IsInitialSync reports that the item had no stored cursor when the sweep
	// started, so the delta covers the account's full history.
	IsInitialSync bool `json:"is_initial_sync"`
}

// Engine sweeps the provider's transaction delta feed into the ledger.
type Engine struct {
	items      item.ItemRepository
	accounts   account.AccountRepository
	txns       transaction.TransactionRepository
	client     provider.Client
	vault      *vault.Gateway
	emitter    *events.Emitter
	logger     ectologger.Logger
	maxRetries int
}

// NewEngine creates a new sync engine. maxRetries bounds how many times a
// sweep restarts after the provider reports data mutating under pagination.
func NewEngine(
	items item.ItemRepository,
	accounts account.AccountRepository,
	txns transaction.TransactionRepository,
	client provider.Client,
	vault *vault.Gateway,
	emitter *events.Emitter,
	maxRetries int,
	logger ectologger.Logger,
) *Engine {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Engine{
		items:      items,
		accounts:   accounts,
		txns:       txns,
		client:     client,
		vault:      vault,
		emitter:    emitter,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// SyncItem runs one full sweep for an item. The stored cursor only advances
// after every page of the sweep has been fetched and applied; any failure
// leaves it where the previous successful sweep ended, so the next attempt
// replays the same delta.
func (e *Engine) SyncItem(ctx context.Context, itemID string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.SyncItem")
	defer span.End()

	start := time.Now()
	result, err := e.syncItem(ctx, itemID)
	if err != nil {
		metrics.RecordSweep("error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordSweep("success", time.Since(start).Seconds())
	metrics.RecordLedgerWrites("added", result.Added)
	metrics.RecordLedgerWrites("modified", result.Modified)
	metrics.RecordLedgerWrites("removed", result.Removed)
	return result, nil
}

func (e *Engine) syncItem(ctx context.Context, itemID string) (*Result, error) {
	it, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, ErrItemNotFound
	}
	if it.IsArchived {
		return nil, ErrItemArchived
	}
	if !it.CanSync() {
		return nil, errors.Wrapf(ErrItemNotSyncable, "status %s", it.Status)
	}

	accountIDs, err := e.activeAccountMap(ctx, it.ID)
	if err != nil {
		return nil, err
	}
	if len(accountIDs) == 0 {
		return nil, ErrNoActiveAccounts
	}

	plaintext, err := e.vault.Decrypt(ctx, it.EncryptedCredential, it.CredentialKeyID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt credential")
	}
	credential := provider.Credential(plaintext)

	log := e.logger.WithContext(ctx).WithField("item_id", it.ID)

	initialSync := it.TransactionsCursor == nil || *it.TransactionsCursor == ""

	var delta *sweepDelta
	restarts := 0
	for attempt := 1; ; attempt++ {
		delta, err = e.fetchDelta(ctx, credential, it.TransactionsCursor)
		if err == nil {
			break
		}
		if !errors.Is(err, provider.ErrSyncMutationDuringPagination) {
			return nil, err
		}
		if attempt >= e.maxRetries {
			return nil, errors.Wrapf(err, "sweep restarted %d times without completing", restarts)
		}
		restarts++
		metrics.SyncSweepRestartsTotal.Inc()
		log.WithField("attempt", attempt).Warn("provider data mutated during pagination, restarting sweep")
	}

	result := &Result{ItemID: it.ID, Restarts: restarts, Cursor: delta.cursor, IsInitialSync: initialSync}
	if err := e.applyDelta(ctx, accountIDs, delta, result); err != nil {
		return nil, err
	}

	if err := e.items.CommitSync(ctx, it.ID, delta.cursor); err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{
		"added":           result.Added,
		"modified":        result.Modified,
		"removed":         result.Removed,
		"skipped":         result.Skipped,
		"restarts":        result.Restarts,
		"is_initial_sync": result.IsInitialSync,
	}).Info("sweep completed")

	e.emitter.SyncCompleted(ctx, it.ClientID, it.ID, result.Added, result.Modified, result.Removed)
	return result, nil
}

// sweepDelta is the accumulated output of one uninterrupted pass over the feed.
type sweepDelta struct {
	added    []provider.Transaction
	modified []provider.Transaction
	removed  []provider.RemovedTransaction
	cursor   string
}

// fetchDelta pages the feed to exhaustion, accumulating in memory. Nothing is
// written until the whole delta is in hand; a mid-pass mutation error throws
// the accumulation away and the caller restarts from the pre-sweep cursor.
func (e *Engine) fetchDelta(ctx context.Context, credential provider.Credential, startCursor *string) (*sweepDelta, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.fetchDelta")
	defer span.End()

	delta := &sweepDelta{}
	cursor := startCursor
	for {
		page, err := e.client.SyncTransactions(ctx, credential, cursor)
		if err != nil {
			return nil, err
		}

		delta.added = append(delta.added, page.Added...)
		delta.modified = append(delta.modified, page.Modified...)
		delta.removed = append(delta.removed, page.Removed...)
		delta.cursor = page.NextCursor

		if !page.HasMore {
			return delta, nil
		}
		next := page.NextCursor
		cursor = &next
	}
}

// applyDelta lands a complete delta in the ledger. Added entries that post a
// pending predecessor reported removed in the same delta are rewritten onto
// the predecessor's row, keeping its internal id; the consumed removals never
// reach MarkRemoved.
func (e *Engine) applyDelta(ctx context.Context, accountIDs map[string]string, delta *sweepDelta, result *Result) error {
	ctx, span := tracing.StartSpan(ctx, "Engine.applyDelta")
	defer span.End()

	removedSet := make(map[string]provider.RemovedTransaction, len(delta.removed))
	for _, rm := range delta.removed {
		removedSet[rm.ExternalTransactionID] = rm
	}
	consumed := make(map[string]bool)

	for _, txn := range delta.added {
		accountID, ok := accountIDs[txn.ExternalAccountID]
		if !ok {
			e.skip(ctx, txn, result)
			continue
		}

		if txn.PendingTransactionID != "" {
			if _, inRemoved := removedSet[txn.PendingTransactionID]; inRemoved {
				predecessor, err := e.txns.GetByExternalID(ctx, accountID, txn.PendingTransactionID)
				if err != nil {
					return err
				}
				if predecessor != nil {
					if err := e.txns.Rewrite(ctx, predecessor.ID, e.writeRequest(accountID, txn, models.TransactionStatusModified)); err != nil {
						return err
					}
					consumed[txn.PendingTransactionID] = true
					result.Modified++
					continue
				}
			}
		}

		if err := e.txns.Upsert(ctx, e.writeRequest(accountID, txn, models.TransactionStatusAdded)); err != nil {
			return err
		}
		result.Added++
	}

	for _, txn := range delta.modified {
		accountID, ok := accountIDs[txn.ExternalAccountID]
		if !ok {
			e.skip(ctx, txn, result)
			continue
		}
		if err := e.txns.Upsert(ctx, e.writeRequest(accountID, txn, models.TransactionStatusModified)); err != nil {
			return err
		}
		result.Modified++
	}

	for _, rm := range delta.removed {
		if consumed[rm.ExternalTransactionID] {
			continue
		}
		accountID, ok := accountIDs[rm.ExternalAccountID]
		if !ok {
			result.Skipped++
			continue
		}
		found, err := e.txns.MarkRemoved(ctx, accountID, rm.ExternalTransactionID)
		if err != nil {
			return err
		}
		if !found {
			e.logger.WithContext(ctx).WithField("external_transaction_id", rm.ExternalTransactionID).Warn("removal names a transaction never stored")
			result.Skipped++
			continue
		}
		result.Removed++
	}

	return nil
}

func (e *Engine) skip(ctx context.Context, txn provider.Transaction, result *Result) {
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"external_account_id":     txn.ExternalAccountID,
		"external_transaction_id": txn.ExternalTransactionID,
	}).Warn("transaction references an account not active on the item")
	result.Skipped++
}

func (e *Engine) writeRequest(accountID string, txn provider.Transaction, status models.TransactionStatus) transaction.WriteRequest {
	req := transaction.WriteRequest{
		AccountID:             accountID,
		ExternalTransactionID: txn.ExternalTransactionID,
		Date:                  txn.Date,
		AuthorizedDate:        txn.AuthorizedDate,
		Amount:                txn.Amount,
		CurrencyCode:          txn.CurrencyCode,
		Name:                  txn.Name,
		MerchantName:          txn.MerchantName,
		Pending:               txn.Pending,
		IsTransfer:            isTransfer(txn),
		PaymentChannel:        txn.PaymentChannel,
		TransactionCode:       txn.TransactionCode,
		Status:                status,
	}
	if txn.Category != nil {
		primary := txn.Category.Primary
		detailed := txn.Category.Detailed
		req.CategoryPrimary = &primary
		req.CategoryDetailed = &detailed
		req.CategoryConfidence = confidenceScore(txn.Category.Confidence)
	}
	return req
}

// isTransfer flags inter-account movements so downstream cash-flow analysis
// can exclude them.
func isTransfer(txn provider.Transaction) bool {
	if txn.TransactionCode != nil && strings.EqualFold(*txn.TransactionCode, "transfer") {
		return true
	}
	if txn.Category == nil {
		return false
	}
	if strings.EqualFold(txn.Category.Primary, "TRANSFER_IN") || strings.EqualFold(txn.Category.Primary, "TRANSFER_OUT") {
		return true
	}
	return strings.Contains(strings.ToLower(txn.Category.Detailed), "transfer")
}

// confidenceScore maps the provider's ordinal confidence onto [0, 1].
func confidenceScore(confidence string) float64 {
	switch strings.ToUpper(confidence) {
	case "VERY_HIGH":
		return 0.95
	case "HIGH":
		return 0.8
	case "MEDIUM":
		return 0.5
	case "LOW":
		return 0.2
	default:
		return 0
	}
}

func (e *Engine) activeAccountMap(ctx context.Context, itemID string) (map[string]string, error) {
	accounts, err := e.accounts.GetByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(accounts))
	for _, a := range accounts {
		if a.IsActive {
			m[a.ExternalAccountID] = a.ID
		}
	}
	return m, nil
}
