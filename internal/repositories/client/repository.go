package client

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/database"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

// ClientRepository defines the interface for client reads
type ClientRepository interface {
	GetByID(ctx context.Context, id string) (*models.Client, error)
	SetSyncStatus(ctx context.Context, id string, status models.ClientSyncStatus) error
}

// Repository implements ClientRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new client repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "clients"

// GetByID gets a client by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Client, error) {
	ctx, span := tracing.StartSpan(ctx, "ClientRepository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "first_name", "last_name", "email", "sync_status", "created_at", "updated_at")
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var c models.Client
	err := r.db.GetContext(ctx, &c, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get client")
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return &c, nil
}

// SetSyncStatus rolls up the client's connection health
func (r *Repository) SetSyncStatus(ctx context.Context, id string, status models.ClientSyncStatus) error {
	ctx, span := tracing.StartSpan(ctx, "ClientRepository.SetSyncStatus")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("sync_status", status),
		ub.Assign("updated_at", time.Now()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("client_id", id).Error("failed to set client sync status")
		return fmt.Errorf("failed to set client sync status: %w", err)
	}

	return nil
}
