package webhookevent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/database"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

// WebhookEventRepository defines the interface for the inbound event log
type WebhookEventRepository interface {
	Insert(ctx context.Context, req InsertRequest) (*models.WebhookEvent, bool, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id string, errorMessage *string) error
}

// InsertRequest carries one inbound delivery into the log.
type InsertRequest struct {
	Type              string
	Code              string
	ExternalItemID    *string
	ExternalAccountID *string
	ItemID            *string
	SessionID         *string
	Fingerprint       string
	RawPayload        json.RawMessage
}

// Repository implements WebhookEventRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new webhook event repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "webhook_events"

const allColumns = "id, type, code, external_item_id, external_account_id, item_id, session_id, fingerprint, raw_payload, processed, error_message, created_at, updated_at"

// Insert appends the event to the log. The fingerprint unique constraint is the
// idempotency gate: when a row already exists (including a concurrent delivery
// winning the race), the existing row is returned with isNew=false and the
// caller must skip all side effects.
func (r *Repository) Insert(ctx context.Context, req InsertRequest) (*models.WebhookEvent, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "WebhookEventRepository.Insert")
	defer span.End()

	now := time.Now()
	id := uuid.New().String()

	payload := req.RawPayload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "type", "code", "external_item_id", "external_account_id", "item_id", "session_id", "fingerprint", "raw_payload", "processed", "created_at", "updated_at")
	sb.Values(id, req.Type, req.Code, req.ExternalItemID, req.ExternalAccountID, req.ItemID, req.SessionID, req.Fingerprint, database.JSONB[json.RawMessage]{Data: payload}, false, now, now)
	sb.SQL("ON CONFLICT (fingerprint) DO NOTHING")

	query, args := sb.Build()

	// Insert and read-back run on one transaction so the row a concurrent
	// delivery raced in is the row this caller gets handed.
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to insert webhook event")
		return nil, false, fmt.Errorf("failed to insert webhook event: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}

	gb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	gb.Select(allColumns)
	gb.From(tableName)
	gb.Where(gb.Equal("fingerprint", req.Fingerprint))

	query, args = gb.Build()

	var event models.WebhookEvent
	if err := tx.GetContext(ctx, &event, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, fmt.Errorf("webhook event vanished after insert: %s", req.Fingerprint)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to read back webhook event")
		return nil, false, fmt.Errorf("failed to read back webhook event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit webhook event insert: %w", err)
	}

	return &event, inserted == 1, nil
}

// GetByFingerprint fetches the log entry for a fingerprint, nil if none exists.
func (r *Repository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.WebhookEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "WebhookEventRepository.GetByFingerprint")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(sb.Equal("fingerprint", fingerprint))

	query, args := sb.Build()

	var event models.WebhookEvent
	err := r.db.GetContext(ctx, &event, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get webhook event by fingerprint")
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return &event, nil
}

// MarkProcessed stamps the row after handling completes, success or failure.
func (r *Repository) MarkProcessed(ctx context.Context, id string, errorMessage *string) error {
	ctx, span := tracing.StartSpan(ctx, "WebhookEventRepository.MarkProcessed")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("processed", true),
		ub.Assign("error_message", errorMessage),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("event_id", id).Error("failed to mark webhook event processed")
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}

	return nil
}
