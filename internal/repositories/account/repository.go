package account

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

// AccountRepository defines the interface for account persistence
type AccountRepository interface {
	Create(ctx context.Context, req UpsertRequest) (*models.Account, error)
	Update(ctx context.Context, id string, req UpsertRequest) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByItem(ctx context.Context, itemID string) ([]models.Account, error)
	GetByExternalID(ctx context.Context, itemID, externalAccountID string) (*models.Account, error)
	FindUnlinkedMatch(ctx context.Context, itemID, accountType, accountSubtype string, mask *string) (*models.Account, error)
	Reactivate(ctx context.Context, id, externalAccountID string) error
	DeactivateByExternalID(ctx context.Context, itemID, externalAccountID string) (bool, error)
	DeactivateExcept(ctx context.Context, itemID string, keepExternalIDs []string) (int64, error)
	DeactivateByItem(ctx context.Context, itemID string) error
}

// UpsertRequest carries the provider-reported account fields
type UpsertRequest struct {
	ItemID            string
	ExternalAccountID string
	Name              string
	OfficialName      *string
	Mask              *string
	Type              string
	Subtype           string
	CurrentBalance    *decimal.Decimal
	AvailableBalance  *decimal.Decimal
	CurrencyCode      *string
}

// Repository implements AccountRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new account repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "accounts"

const allColumns = "id, item_id, external_account_id, name, official_name, mask, type, subtype, current_balance, available_balance, currency_code, is_active, created_at, updated_at"

// Create creates a new active account
func (r *Repository) Create(ctx context.Context, req UpsertRequest) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.Create")
	defer span.End()

	now := time.Now()
	id := uuid.New().String()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "item_id", "external_account_id", "name", "official_name", "mask", "type", "subtype", "current_balance", "available_balance", "currency_code", "is_active", "created_at", "updated_at")
	sb.Values(id, req.ItemID, req.ExternalAccountID, req.Name, req.OfficialName, req.Mask, req.Type, req.Subtype, req.CurrentBalance, req.AvailableBalance, req.CurrencyCode, true, now, now)

	query, args := sb.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create account")
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return r.GetByID(ctx, id)
}

// Update refreshes the mutable provider-reported fields and reactivates the row
func (r *Repository) Update(ctx context.Context, id string, req UpsertRequest) error {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.Update")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("name", req.Name),
		ub.Assign("official_name", req.OfficialName),
		ub.Assign("mask", req.Mask),
		ub.Assign("type", req.Type),
		ub.Assign("subtype", req.Subtype),
		ub.Assign("current_balance", req.CurrentBalance),
		ub.Assign("available_balance", req.AvailableBalance),
		ub.Assign("currency_code", req.CurrencyCode),
		ub.Assign("is_active", true),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("account_id", id).Error("failed to update account")
		return fmt.Errorf("failed to update account: %w", err)
	}

	return nil
}

// GetByID gets an account by internal ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	return r.get(ctx, sb)
}

// GetByItem lists all accounts under an item, active and inactive
func (r *Repository) GetByItem(ctx context.Context, itemID string) ([]models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.GetByItem")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(sb.Equal("item_id", itemID))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()

	var accounts []models.Account
	if err := r.db.SelectContext(ctx, &accounts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("item_id", itemID).Error("failed to list accounts")
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// GetByExternalID gets an account by its provider id scoped to an item
func (r *Repository) GetByExternalID(ctx context.Context, itemID, externalAccountID string) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.GetByExternalID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(
		sb.Equal("item_id", itemID),
		sb.Equal("external_account_id", externalAccountID),
	)

	return r.get(ctx, sb)
}

// FindUnlinkedMatch finds an account on the item whose shape matches a
// provider account that arrived under a fresh external id. Matching is on
// type, subtype and mask; a provider that reports no mask only matches rows
// with no mask recorded.
func (r *Repository) FindUnlinkedMatch(ctx context.Context, itemID, accountType, accountSubtype string, mask *string) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.FindUnlinkedMatch")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	conds := []string{
		sb.Equal("item_id", itemID),
		sb.Equal("type", accountType),
		sb.Equal("subtype", accountSubtype),
	}
	if mask != nil {
		conds = append(conds, sb.Equal("mask", *mask))
	} else {
		conds = append(conds, sb.IsNull("mask"))
	}
	sb.Where(conds...)
	sb.OrderBy("created_at ASC")
	sb.Limit(1)

	return r.get(ctx, sb)
}

// Reactivate rebinds an account to a new provider id and marks it active
func (r *Repository) Reactivate(ctx context.Context, id, externalAccountID string) error {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.Reactivate")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("external_account_id", externalAccountID),
		ub.Assign("is_active", true),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("account_id", id).Error("failed to reactivate account")
		return fmt.Errorf("failed to reactivate account: %w", err)
	}

	return nil
}

// DeactivateByExternalID deactivates a single account by provider id. Returns
// whether a row was touched so callers can log unknown ids.
func (r *Repository) DeactivateByExternalID(ctx context.Context, itemID, externalAccountID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.DeactivateByExternalID")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("is_active", false),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(
		ub.Equal("item_id", itemID),
		ub.Equal("external_account_id", externalAccountID),
	)

	query, args := ub.Build()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("external_account_id", externalAccountID).Error("failed to deactivate account")
		return false, fmt.Errorf("failed to deactivate account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// DeactivateExcept deactivates every active account on the item whose provider
// id is not in the keep set. A relink pass calls this after reconciling so
// accounts the institution stopped reporting go dormant.
func (r *Repository) DeactivateExcept(ctx context.Context, itemID string, keepExternalIDs []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.DeactivateExcept")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("is_active", false),
		ub.Assign("updated_at", time.Now()),
	)
	conds := []string{
		ub.Equal("item_id", itemID),
		ub.Equal("is_active", true),
	}
	if len(keepExternalIDs) > 0 {
		keep := make([]any, len(keepExternalIDs))
		for i, id := range keepExternalIDs {
			keep[i] = id
		}
		conds = append(conds, ub.NotIn("external_account_id", keep...))
	}
	ub.Where(conds...)

	query, args := ub.Build()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("item_id", itemID).Error("failed to deactivate untouched accounts")
		return 0, fmt.Errorf("failed to deactivate untouched accounts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

// DeactivateByItem deactivates every account under the item
func (r *Repository) DeactivateByItem(ctx context.Context, itemID string) error {
	ctx, span := tracing.StartSpan(ctx, "AccountRepository.DeactivateByItem")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("is_active", false),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("item_id", itemID))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("item_id", itemID).Error("failed to deactivate accounts")
		return fmt.Errorf("failed to deactivate accounts: %w", err)
	}

	return nil
}

func (r *Repository) get(ctx context.Context, sb *sqlbuilder.SelectBuilder) (*models.Account, error) {
	query, args := sb.Build()

	var account models.Account
	err := r.db.GetContext(ctx, &account, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get account")
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}
