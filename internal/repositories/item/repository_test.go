package item

import (
	"context"
	"database/sql"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/database"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type capturedQuery struct {
	query string
	args  []any
}

// recordingDB captures every statement the repository builds instead of
// executing it.
type recordingDB struct {
	execs   []capturedQuery
	gets    []capturedQuery
	selects []capturedQuery
	getItem *models.Item
	getErr  error
}

type fakeResult struct{ rows int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

func (d *recordingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.execs = append(d.execs, capturedQuery{query: query, args: args})
	return fakeResult{rows: 1}, nil
}

func (d *recordingDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	d.gets = append(d.gets, capturedQuery{query: query, args: args})
	if d.getErr != nil {
		return d.getErr
	}
	if d.getItem != nil {
		*dest.(*models.Item) = *d.getItem
	}
	return nil
}

func (d *recordingDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	d.selects = append(d.selects, capturedQuery{query: query, args: args})
	return nil
}

func (d *recordingDB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return nil, sql.ErrConnDone
}
func (d *recordingDB) Close() error                          { return nil }
func (d *recordingDB) Ping() error                           { return nil }
func (d *recordingDB) PingContext(ctx context.Context) error { return nil }
func (d *recordingDB) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	return fakeResult{}, nil
}
func (d *recordingDB) QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row {
	return nil
}
func (d *recordingDB) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return nil, nil
}
func (d *recordingDB) Rebind(query string) string { return query }
func (d *recordingDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, nil, sql.ErrConnDone
}
func (d *recordingDB) Unsafe() *sqlx.DB { return nil }

func newTestRepo() (*Repository, *recordingDB) {
	db := &recordingDB{}
	return NewRepository(db, testLogger()), db
}

func TestCreate_InsertsActiveUnarchivedRow(t *testing.T) {
	repo, db := newTestRepo()
	db.getItem = &models.Item{ID: "ignored"}

	_, err := repo.Create(context.Background(), CreateRequest{
		ClientID:            "c1",
		ExternalItemID:      "ext-1",
		InstitutionID:       "ins_1",
		InstitutionName:     "First Bank",
		EncryptedCredential: "cipher",
		CredentialKeyID:     "k1",
	})
	require.NoError(t, err)

	require.Len(t, db.execs, 1)
	q := db.execs[0]
	assert.Contains(t, q.query, "INSERT INTO items")
	assert.Contains(t, q.args, "c1")
	assert.Contains(t, q.args, "ext-1")
	assert.Contains(t, q.args, models.ItemStatusActive)
	// read-back goes through GetByID
	require.Len(t, db.gets, 1)
	assert.Contains(t, db.gets[0].query, "FROM items")
}

func TestGetByExternalID_ScopedToLivePartition(t *testing.T) {
	repo, db := newTestRepo()
	db.getItem = &models.Item{ID: "item-1"}

	it, err := repo.GetByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	require.NotNil(t, it)

	require.Len(t, db.gets, 1)
	q := db.gets[0]
	assert.Contains(t, q.query, "external_item_id")
	assert.Contains(t, q.query, "is_archived")
	assert.Contains(t, q.args, "ext-1")
	assert.Contains(t, q.args, false)
}

func TestGet_NoRowsIsNilNotError(t *testing.T) {
	repo, db := newTestRepo()
	db.getErr = sql.ErrNoRows

	it, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestGetByClientAndInstitution_PicksNewestInPartition(t *testing.T) {
	repo, db := newTestRepo()
	db.getItem = &models.Item{ID: "item-1"}

	_, err := repo.GetByClientAndInstitution(context.Background(), "c1", "ins_1", true)
	require.NoError(t, err)

	q := db.gets[0]
	assert.Contains(t, q.query, "ORDER BY updated_at DESC")
	assert.Contains(t, q.query, "LIMIT")
	assert.Contains(t, q.args, true)
}

func TestRelink_ClearsErrorStateAndUnarchives(t *testing.T) {
	repo, db := newTestRepo()

	err := repo.Relink(context.Background(), "item-1", RelinkRequest{
		ExternalItemID:      "ext-new",
		EncryptedCredential: "cipher-new",
		CredentialKeyID:     "k2",
	})
	require.NoError(t, err)

	require.Len(t, db.execs, 1)
	q := db.execs[0]
	assert.Contains(t, q.query, "UPDATE items")
	assert.Contains(t, q.query, "last_error_code")
	assert.Contains(t, q.query, "is_archived")
	assert.Contains(t, q.args, "ext-new")
	assert.Contains(t, q.args, models.ItemStatusActive)
	assert.Contains(t, q.args, false)
}

func TestSetStatus_ActiveClearsErrors(t *testing.T) {
	repo, db := newTestRepo()
	code := "ITEM_LOGIN_REQUIRED"

	err := repo.SetStatus(context.Background(), "ext-1", models.ItemStatusActive, &code, nil)
	require.NoError(t, err)

	q := db.execs[0]
	assert.Contains(t, q.query, "last_error_code")
	assert.Contains(t, q.args, models.ItemStatusActive)
	assert.NotContains(t, q.args, &code, "error details must be discarded on recovery")
}

func TestSetStatus_ArchivedAlsoFlipsPartition(t *testing.T) {
	repo, db := newTestRepo()

	err := repo.SetStatus(context.Background(), "ext-1", models.ItemStatusArchived, nil, nil)
	require.NoError(t, err)

	q := db.execs[0]
	assert.Contains(t, q.args, models.ItemStatusArchived)
	assert.Contains(t, q.args, true)
}

func TestCommitSync_WritesCursorAndClearsFlag(t *testing.T) {
	repo, db := newTestRepo()

	err := repo.CommitSync(context.Background(), "item-1", "cursor-9")
	require.NoError(t, err)

	q := db.execs[0]
	assert.Contains(t, q.query, "transactions_cursor")
	assert.Contains(t, q.query, "last_synced_at")
	assert.Contains(t, q.args, "cursor-9")
	assert.Contains(t, q.args, false)
	assert.Contains(t, q.args, "item-1")
}
