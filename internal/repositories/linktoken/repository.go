package linktoken

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

// LinkTokenRepository defines the interface for link token persistence
type LinkTokenRepository interface {
	Create(ctx context.Context, req CreateRequest) (*models.LinkToken, error)
	GetByToken(ctx context.Context, token string) (*models.LinkToken, error)
	RecordSessionStatus(ctx context.Context, id, sessionStatus string, sessionError *string) error
	MarkUsed(ctx context.Context, id string) error
}

// CreateRequest records a freshly issued linking token
type CreateRequest struct {
	Token     string
	ClientID  string
	HostedURL *string
	ExpiresAt *time.Time
}

// Repository implements LinkTokenRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new link token repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "link_tokens"

const allColumns = "id, token, client_id, status, last_session_status, last_session_error, hosted_url, expires_at, created_at, updated_at"

// Create records a pending link token
func (r *Repository) Create(ctx context.Context, req CreateRequest) (*models.LinkToken, error) {
	ctx, span := tracing.StartSpan(ctx, "LinkTokenRepository.Create")
	defer span.End()

	now := time.Now()
	id := uuid.New().String()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "token", "client_id", "status", "hosted_url", "expires_at", "created_at", "updated_at")
	sb.Values(id, req.Token, req.ClientID, models.LinkTokenStatusPending, req.HostedURL, req.ExpiresAt, now, now)

	query, args := sb.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create link token")
		return nil, fmt.Errorf("failed to create link token: %w", err)
	}

	return r.getByID(ctx, id)
}

// GetByToken gets a link token by token value
func (r *Repository) GetByToken(ctx context.Context, token string) (*models.LinkToken, error) {
	ctx, span := tracing.StartSpan(ctx, "LinkTokenRepository.GetByToken")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(sb.Equal("token", token))

	return r.get(ctx, sb)
}

// RecordSessionStatus stores the terminal status the linking UI reported.
// Recorded for every session outcome, success or not.
func (r *Repository) RecordSessionStatus(ctx context.Context, id, sessionStatus string, sessionError *string) error {
	ctx, span := tracing.StartSpan(ctx, "LinkTokenRepository.RecordSessionStatus")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("last_session_status", sessionStatus),
		ub.Assign("last_session_error", sessionError),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("link_token_id", id).Error("failed to record session status")
		return fmt.Errorf("failed to record session status: %w", err)
	}

	return nil
}

// MarkUsed marks the token consumed after its session has been fully reconciled
func (r *Repository) MarkUsed(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "LinkTokenRepository.MarkUsed")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("status", models.LinkTokenStatusUsed),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("link_token_id", id).Error("failed to mark link token used")
		return fmt.Errorf("failed to mark link token used: %w", err)
	}

	return nil
}

func (r *Repository) getByID(ctx context.Context, id string) (*models.LinkToken, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(allColumns)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	return r.get(ctx, sb)
}

func (r *Repository) get(ctx context.Context, sb *sqlbuilder.SelectBuilder) (*models.LinkToken, error) {
	query, args := sb.Build()

	var token models.LinkToken
	err := r.db.GetContext(ctx, &token, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get link token")
		return nil, fmt.Errorf("failed to get link token: %w", err)
	}

	return &token, nil
}
