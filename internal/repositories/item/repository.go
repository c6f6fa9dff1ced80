package item

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/database"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

// ItemRepository defines the interface for bank connection persistence
type ItemRepository interface {
	Create(ctx context.Context, req CreateRequest) (*models.Item, error)
	GetByID(ctx context.Context, id string) (*models.Item, error)
	GetByExternalID(ctx context.Context, externalItemID string) (*models.Item, error)
	GetByClientAndInstitution(ctx context.Context, clientID, institutionID string, archived bool) (*models.Item, error)
	ListByClient(ctx context.Context, clientID string) ([]models.Item, error)
	Relink(ctx context.Context, id string, req RelinkRequest) error
	SetStatus(ctx context.Context, externalItemID string, status models.ItemStatus, errorCode, errorMessage *string) error
	SetHasSyncUpdates(ctx context.Context, externalItemID string, hasUpdates bool) error
	Archive(ctx context.Context, id string) error
	CommitSync(ctx context.Context, id, cursor string) error
}

// CreateRequest inserts a freshly linked connection.
type CreateRequest struct {
	ClientID            string
	ExternalItemID      string
	InstitutionID       string
	InstitutionName     string
	EncryptedCredential string
	CredentialKeyID     string
}

// RelinkRequest rewrites the credential side of an existing item. Used by
// update mode, duplicate collisions and archived restores alike: the external
// id and credential are overwritten, error state cleared, status forced back
// to active, and the archived flag dropped.
type RelinkRequest struct {
	ExternalItemID      string
	EncryptedCredential string
	CredentialKeyID     string
}

// Repository implements ItemRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new item repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "items"

const allColumns = "id, client_id, external_item_id, institution_id, institution_name, encrypted_credential, credential_key_id, status, last_error_code, last_error_message, has_sync_updates, transactions_cursor, is_archived, last_synced_at, created_at, updated_at"

// Create creates a new item with status active
func (r *Repository) Create(ctx context.Context, req CreateRequest) (*models.Item, error) {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.Create")
	defer span.End()

	now := time.Now()
	id := uuid.New().String()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "client_id", "external_item_id", "institution_id", "institution_name", "encrypted_credential", "credential_key_id", "status", "has_sync_updates", "is_archived", "created_at", "updated_at")
	sb.Values(id, req.ClientID, req.ExternalItemID, req.InstitutionID, req.InstitutionName, req.EncryptedCredential, req.CredentialKeyID, models.ItemStatusActive, false, false, now, now)

	query, args := sb.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create item")
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":             id,
		"client_id":      req.ClientID,
		"institution_id": req.InstitutionID,
	}).Info("created item")

	return r.GetByID(ctx, id)
}

// GetByID gets an item by internal ID, archived or not
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Item, error) {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	return r.get(ctx, sb)
}

// GetByExternalID gets the non-archived item carrying a provider-assigned id
func (r *Repository) GetByExternalID(ctx context.Context, externalItemID string) (*models.Item, error) {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.GetByExternalID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(
		sb.Equal("external_item_id", externalItemID),
		sb.Equal("is_archived", false),
	)

	return r.get(ctx, sb)
}

// GetByClientAndInstitution gets the client's item at an institution in either
// the live or the archived partition.
func (r *Repository) GetByClientAndInstitution(ctx context.Context, clientID, institutionID string, archived bool) (*models.Item, error) {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.GetByClientAndInstitution")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(
		sb.Equal("client_id", clientID),
		sb.Equal("institution_id", institutionID),
		sb.Equal("is_archived", archived),
	)
	sb.OrderBy("updated_at DESC")
	sb.Limit(1)

	return r.get(ctx, sb)
}

// ListByClient lists all non-archived items for a client
func (r *Repository) ListByClient(ctx context.Context, clientID string) ([]models.Item, error) {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.ListByClient")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(
		sb.Equal("client_id", clientID),
		sb.Equal("is_archived", false),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()

	var items []models.Item
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("client_id", clientID).Error("failed to list items")
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// Relink overwrites the credential fields, clears error state, reactivates and
// un-archives the row in one write.
func (r *Repository) Relink(ctx context.Context, id string, req RelinkRequest) error {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.Relink")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("external_item_id", req.ExternalItemID),
		ub.Assign("encrypted_credential", req.EncryptedCredential),
		ub.Assign("credential_key_id", req.CredentialKeyID),
		ub.Assign("status", models.ItemStatusActive),
		ub.Assign("last_error_code", nil),
		ub.Assign("last_error_message", nil),
		ub.Assign("is_archived", false),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("item_id", id).Error("failed to relink item")
		return fmt.Errorf("failed to relink item: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"item_id":          id,
		"external_item_id": req.ExternalItemID,
	}).Info("relinked item")

	return nil
}

// SetStatus applies a conditional field-level status write keyed by external id.
// Transitioning to active clears the error fields; error transitions record them.
func (r *Repository) SetStatus(ctx context.Context, externalItemID string, status models.ItemStatus, errorCode, errorMessage *string) error {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.SetStatus")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	assignments := []string{
		ub.Assign("status", status),
		ub.Assign("updated_at", time.Now()),
	}
	if status == models.ItemStatusActive {
		assignments = append(assignments,
			ub.Assign("last_error_code", nil),
			ub.Assign("last_error_message", nil),
		)
	} else {
		assignments = append(assignments,
			ub.Assign("last_error_code", errorCode),
			ub.Assign("last_error_message", errorMessage),
		)
	}
	if status == models.ItemStatusArchived {
		assignments = append(assignments, ub.Assign("is_archived", true))
	}
	ub.Set(assignments...)
	ub.Where(
		ub.Equal("external_item_id", externalItemID),
		ub.Equal("is_archived", false),
	)

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("external_item_id", externalItemID).Error("failed to set item status")
		return fmt.Errorf("failed to set item status: %w", err)
	}

	return nil
}

// SetHasSyncUpdates flips the sync-available flag without touching status
func (r *Repository) SetHasSyncUpdates(ctx context.Context, externalItemID string, hasUpdates bool) error {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.SetHasSyncUpdates")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("has_sync_updates", hasUpdates),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(
		ub.Equal("external_item_id", externalItemID),
		ub.Equal("is_archived", false),
	)

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("external_item_id", externalItemID).Error("failed to set has_sync_updates")
		return fmt.Errorf("failed to set has_sync_updates: %w", err)
	}

	return nil
}

// Archive soft-deletes the item by internal id
func (r *Repository) Archive(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.Archive")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("status", models.ItemStatusArchived),
		ub.Assign("is_archived", true),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("item_id", id).Error("failed to archive item")
		return fmt.Errorf("failed to archive item: %w", err)
	}

	return nil
}

// CommitSync persists the cursor, clears the sync flag and stamps the sweep
// time. Called only after a fully successful sweep; a failed sweep leaves the
// previous cursor untouched.
func (r *Repository) CommitSync(ctx context.Context, id, cursor string) error {
	ctx, span := tracing.StartSpan(ctx, "ItemRepository.CommitSync")
	defer span.End()

	now := time.Now()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("transactions_cursor", cursor),
		ub.Assign("has_sync_updates", false),
		ub.Assign("last_synced_at", now),
		ub.Assign("updated_at", now),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("item_id", id).Error("failed to commit sync state")
		return fmt.Errorf("failed to commit sync state: %w", err)
	}

	return nil
}

func (r *Repository) get(ctx context.Context, sb *sqlbuilder.SelectBuilder) (*models.Item, error) {
	query, args := sb.Build()

	var item models.Item
	err := r.db.GetContext(ctx, &item, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get item")
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return &item, nil
}
