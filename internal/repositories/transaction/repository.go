package transaction

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/shopspring/decimal"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/database"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

// TransactionRepository defines the interface for ledger entry persistence
type TransactionRepository interface {
	Rewrite(ctx context.Context, id string, req WriteRequest) error
	Upsert(ctx context.Context, req WriteRequest) error
	GetByExternalID(ctx context.Context, accountID, externalTransactionID string) (*models.Transaction, error)
	ListByAccount(ctx context.Context, accountID string, includeRemoved bool) ([]models.Transaction, error)
	MarkRemoved(ctx context.Context, accountID, externalTransactionID string) (bool, error)
	ArchiveByItem(ctx context.Context, itemID string) (int64, error)
}

// WriteRequest carries the provider-reported transaction fields
type WriteRequest struct {
	AccountID             string
	ExternalTransactionID string
	Date                  time.Time
	AuthorizedDate        *time.Time
	Amount                decimal.Decimal
	CurrencyCode          *string
	Name                  string
	MerchantName          *string
	Pending               bool
	IsTransfer            bool
	CategoryPrimary       *string
	CategoryDetailed      *string
	CategoryConfidence    float64
	PaymentChannel        *string
	TransactionCode       *string
	Status                models.TransactionStatus
}

// Repository implements TransactionRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new transaction repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "transactions"

const allColumns = "id, account_id, external_transaction_id, date, authorized_date, amount, currency_code, name, merchant_name, pending, is_transfer, is_removed, is_archived, category_primary, category_detailed, category_confidence, payment_channel, transaction_code, status, created_at, updated_at"

// Rewrite replaces every provider-reported field on an existing row while the
// internal id stays fixed. This is how a pending entry becomes its posted
// successor without breaking references to the row.
func (r *Repository) Rewrite(ctx context.Context, id string, req WriteRequest) error {
	ctx, span := tracing.StartSpan(ctx, "TransactionRepository.Rewrite")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("external_transaction_id", req.ExternalTransactionID),
		ub.Assign("date", req.Date),
		ub.Assign("authorized_date", req.AuthorizedDate),
		ub.Assign("amount", req.Amount),
		ub.Assign("currency_code", req.CurrencyCode),
		ub.Assign("name", req.Name),
		ub.Assign("merchant_name", req.MerchantName),
		ub.Assign("pending", req.Pending),
		ub.Assign("is_transfer", req.IsTransfer),
		ub.Assign("is_removed", false),
		ub.Assign("category_primary", req.CategoryPrimary),
		ub.Assign("category_detailed", req.CategoryDetailed),
		ub.Assign("category_confidence", req.CategoryConfidence),
		ub.Assign("payment_channel", req.PaymentChannel),
		ub.Assign("transaction_code", req.TransactionCode),
		ub.Assign("status", req.Status),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("transaction_id", id).Error("failed to rewrite transaction")
		return fmt.Errorf("failed to rewrite transaction: %w", err)
	}

	return nil
}

// Upsert inserts the entry or, when the provider id already exists under the
// account, refreshes its fields in place.
func (r *Repository) Upsert(ctx context.Context, req WriteRequest) error {
	ctx, span := tracing.StartSpan(ctx, "TransactionRepository.Upsert")
	defer span.End()

	now := time.Now()
	id := uuid.New().String()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "account_id", "external_transaction_id", "date", "authorized_date", "amount", "currency_code", "name", "merchant_name", "pending", "is_transfer", "is_removed", "is_archived", "category_primary", "category_detailed", "category_confidence", "payment_channel", "transaction_code", "status", "created_at", "updated_at")
	sb.Values(id, req.AccountID, req.ExternalTransactionID, req.Date, req.AuthorizedDate, req.Amount, req.CurrencyCode, req.Name, req.MerchantName, req.Pending, req.IsTransfer, false, false, req.CategoryPrimary, req.CategoryDetailed, req.CategoryConfidence, req.PaymentChannel, req.TransactionCode, req.Status, now, now)
	sb.SQL(`ON CONFLICT (account_id, external_transaction_id) DO UPDATE SET
		date = EXCLUDED.date,
		authorized_date = EXCLUDED.authorized_date,
		amount = EXCLUDED.amount,
		currency_code = EXCLUDED.currency_code,
		name = EXCLUDED.name,
		merchant_name = EXCLUDED.merchant_name,
		pending = EXCLUDED.pending,
		is_transfer = EXCLUDED.is_transfer,
		is_removed = false,
		category_primary = EXCLUDED.category_primary,
		category_detailed = EXCLUDED.category_detailed,
		category_confidence = EXCLUDED.category_confidence,
		payment_channel = EXCLUDED.payment_channel,
		transaction_code = EXCLUDED.transaction_code,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at`)

	query, args := sb.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("external_transaction_id", req.ExternalTransactionID).Error("failed to upsert transaction")
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	return nil
}

// GetByExternalID gets a ledger entry by provider id scoped to an account
func (r *Repository) GetByExternalID(ctx context.Context, accountID, externalTransactionID string) (*models.Transaction, error) {
	ctx, span := tracing.StartSpan(ctx, "TransactionRepository.GetByExternalID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("external_transaction_id", externalTransactionID),
	)

	return r.get(ctx, sb)
}

// ListByAccount lists ledger entries under an account ordered by date
func (r *Repository) ListByAccount(ctx context.Context, accountID string, includeRemoved bool) ([]models.Transaction, error) {
	ctx, span := tracing.StartSpan(ctx, "TransactionRepository.ListByAccount")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	conds := []string{
		sb.Equal("account_id", accountID),
		sb.Equal("is_archived", false),
	}
	if !includeRemoved {
		conds = append(conds, sb.Equal("is_removed", false))
	}
	sb.Where(conds...)
	sb.OrderBy("date DESC", "created_at DESC")

	query, args := sb.Build()

	var txns []models.Transaction
	if err := r.db.SelectContext(ctx, &txns, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("account_id", accountID).Error("failed to list transactions")
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// MarkRemoved soft-deletes the entry by provider id. Returns whether a row
// was found; the provider can report removals this side never stored.
func (r *Repository) MarkRemoved(ctx context.Context, accountID, externalTransactionID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "TransactionRepository.MarkRemoved")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("is_removed", true),
		ub.Assign("status", models.TransactionStatusRemoved),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(
		ub.Equal("account_id", accountID),
		ub.Equal("external_transaction_id", externalTransactionID),
	)

	query, args := ub.Build()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("external_transaction_id", externalTransactionID).Error("failed to mark transaction removed")
		return false, fmt.Errorf("failed to mark transaction removed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// ArchiveByItem archives every ledger entry under the item's accounts
func (r *Repository) ArchiveByItem(ctx context.Context, itemID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "TransactionRepository.ArchiveByItem")
	defer span.End()

	query := `UPDATE transactions SET is_archived = true, updated_at = $1
		WHERE account_id IN (SELECT id FROM accounts WHERE item_id = $2)
		AND is_archived = false`

	res, err := r.db.ExecContext(ctx, query, time.Now(), itemID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("item_id", itemID).Error("failed to archive transactions")
		return 0, fmt.Errorf("failed to archive transactions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

func (r *Repository) get(ctx context.Context, sb *sqlbuilder.SelectBuilder) (*models.Transaction, error) {
	query, args := sb.Build()

	var txn models.Transaction
	err := r.db.GetContext(ctx, &txn, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get transaction")
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &txn, nil
}
