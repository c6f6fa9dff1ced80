package webhooks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/webhookevent"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeEventRepo struct {
	byFingerprint map[string]*models.WebhookEvent
	finished      map[string]*string
	nextID        int
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		byFingerprint: make(map[string]*models.WebhookEvent),
		finished:      make(map[string]*string),
	}
}

func (f *fakeEventRepo) Insert(ctx context.Context, req webhookevent.InsertRequest) (*models.WebhookEvent, bool, error) {
	if existing, ok := f.byFingerprint[req.Fingerprint]; ok {
		return existing, false, nil
	}
	f.nextID++
	event := &models.WebhookEvent{
		ID:          fmt.Sprintf("evt-%d", f.nextID),
		Type:        req.Type,
		Code:        req.Code,
		ItemID:      req.ItemID,
		Fingerprint: req.Fingerprint,
	}
	f.byFingerprint[req.Fingerprint] = event
	return event, true, nil
}

func (f *fakeEventRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*models.WebhookEvent, error) {
	return f.byFingerprint[fingerprint], nil
}

func (f *fakeEventRepo) MarkProcessed(ctx context.Context, id string, errorMessage *string) error {
	f.finished[id] = errorMessage
	return nil
}

type fakeItemLookup struct {
	byExternalID map[string]*models.Item
}

func (f *fakeItemLookup) GetByExternalID(ctx context.Context, externalItemID string) (*models.Item, error) {
	return f.byExternalID[externalItemID], nil
}

func (f *fakeItemLookup) Create(ctx context.Context, req item.CreateRequest) (*models.Item, error) {
	return nil, nil
}
func (f *fakeItemLookup) GetByID(ctx context.Context, id string) (*models.Item, error) {
	return nil, nil
}
func (f *fakeItemLookup) GetByClientAndInstitution(ctx context.Context, clientID, institutionID string, archived bool) (*models.Item, error) {
	return nil, nil
}
func (f *fakeItemLookup) ListByClient(ctx context.Context, clientID string) ([]models.Item, error) {
	return nil, nil
}
func (f *fakeItemLookup) Relink(ctx context.Context, id string, req item.RelinkRequest) error {
	return nil
}
func (f *fakeItemLookup) SetStatus(ctx context.Context, externalItemID string, status models.ItemStatus, errorCode, errorMessage *string) error {
	return nil
}
func (f *fakeItemLookup) SetHasSyncUpdates(ctx context.Context, externalItemID string, hasUpdates bool) error {
	return nil
}
func (f *fakeItemLookup) Archive(ctx context.Context, id string) error { return nil }
func (f *fakeItemLookup) CommitSync(ctx context.Context, id, cursor string) error {
	return nil
}

func TestGate_Record_NewAndDuplicate(t *testing.T) {
	events := newFakeEventRepo()
	items := &fakeItemLookup{byExternalID: map[string]*models.Item{}}
	gate := NewGate(events, items, testLogger())

	payload := &models.WebhookPayload{Type: "ITEM", Code: "LOGIN_REQUIRED", ItemExternalID: "ext-1"}
	arrived := time.Date(2025, 6, 1, 12, 30, 5, 0, time.UTC)

	first, err := gate.Record(context.Background(), payload, arrived)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	// Redelivery inside the same minute bucket
	second, err := gate.Record(context.Background(), payload, arrived.Add(20*time.Second))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.ID, second.Event.ID)
}

func TestGate_Record_ResolvesKnownItem(t *testing.T) {
	events := newFakeEventRepo()
	items := &fakeItemLookup{byExternalID: map[string]*models.Item{
		"ext-9": {ID: "item-internal-9"},
	}}
	gate := NewGate(events, items, testLogger())

	payload := &models.WebhookPayload{Type: "ITEM", Code: "ERROR", ItemExternalID: "ext-9"}
	rec, err := gate.Record(context.Background(), payload, time.Now())
	require.NoError(t, err)
	require.NotNil(t, rec.Event.ItemID)
	assert.Equal(t, "item-internal-9", *rec.Event.ItemID)
}

func TestGate_Record_UnknownItemStillLogged(t *testing.T) {
	events := newFakeEventRepo()
	items := &fakeItemLookup{byExternalID: map[string]*models.Item{}}
	gate := NewGate(events, items, testLogger())

	payload := &models.WebhookPayload{Type: "ITEM", Code: "ERROR", ItemExternalID: "never-seen"}
	rec, err := gate.Record(context.Background(), payload, time.Now())
	require.NoError(t, err)
	assert.False(t, rec.Duplicate)
	assert.Nil(t, rec.Event.ItemID)
}

type recordingHandler struct {
	calls int
	err   error
}

func (h *recordingHandler) Reconcile(ctx context.Context, event *models.WebhookEvent, payload *models.WebhookPayload) error {
	h.calls++
	return h.err
}

func (h *recordingHandler) Apply(ctx context.Context, category string, event *models.WebhookEvent, payload *models.WebhookPayload) error {
	h.calls++
	return h.err
}

func TestDispatcher_DuplicateSkipsHandlers(t *testing.T) {
	events := newFakeEventRepo()
	items := &fakeItemLookup{byExternalID: map[string]*models.Item{}}
	gate := NewGate(events, items, testLogger())
	linker := &recordingHandler{}
	status := &recordingHandler{}
	d := NewDispatcher(gate, linker, status, testLogger())

	payload := &models.WebhookPayload{Type: "ITEM", Code: "LOGIN_REQUIRED", ItemExternalID: "ext-1"}
	arrived := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first, err := d.Handle(context.Background(), payload, arrived)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, first.Status)
	assert.Equal(t, 1, status.calls)

	second, err := d.Handle(context.Background(), payload, arrived.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Status)
	assert.Equal(t, 1, status.calls, "duplicate must not reach a handler")
}

func TestDispatcher_RoutesSessionToLinker(t *testing.T) {
	events := newFakeEventRepo()
	items := &fakeItemLookup{byExternalID: map[string]*models.Item{}}
	gate := NewGate(events, items, testLogger())
	linker := &recordingHandler{}
	status := &recordingHandler{}
	d := NewDispatcher(gate, linker, status, testLogger())

	payload := &models.WebhookPayload{Type: "SESSION", Code: "SESSION_FINISHED", SessionID: "s1"}
	outcome, err := d.Handle(context.Background(), payload, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, 1, linker.calls)
	assert.Equal(t, 0, status.calls)
}

func TestDispatcher_HandlerFailureRecordedAndAcknowledged(t *testing.T) {
	events := newFakeEventRepo()
	items := &fakeItemLookup{byExternalID: map[string]*models.Item{}}
	gate := NewGate(events, items, testLogger())
	linker := &recordingHandler{}
	status := &recordingHandler{err: errors.New("boom")}
	d := NewDispatcher(gate, linker, status, testLogger())

	payload := &models.WebhookPayload{Type: "ITEM", Code: "ERROR", ItemExternalID: "ext-1"}
	outcome, err := d.Handle(context.Background(), payload, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome.Status)

	errMsg, ok := events.finished[outcome.EventID]
	require.True(t, ok, "event must be finalized")
	require.NotNil(t, errMsg)
	assert.Contains(t, *errMsg, "boom")
}

func TestDispatcher_UnknownCodeIsNoop(t *testing.T) {
	events := newFakeEventRepo()
	items := &fakeItemLookup{byExternalID: map[string]*models.Item{}}
	gate := NewGate(events, items, testLogger())
	linker := &recordingHandler{}
	status := &recordingHandler{}
	d := NewDispatcher(gate, linker, status, testLogger())

	payload := &models.WebhookPayload{Type: "ITEM", Code: "SOMETHING_NEW"}
	outcome, err := d.Handle(context.Background(), payload, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, 0, linker.calls)
	assert.Equal(t, 0, status.calls)
}
