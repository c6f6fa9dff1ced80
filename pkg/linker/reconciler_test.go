package linker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/account"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/linktoken"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/events"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/provider"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/vault"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testVault(t *testing.T) *vault.Gateway {
	t.Helper()
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	store, err := vault.NewEnvKeyStore([]string{"k1:" + base64.StdEncoding.EncodeToString(key)}, "")
	require.NoError(t, err)
	return vault.NewGateway(store, vault.NewKeyCache(), testLogger())
}

type fakeItemRepo struct {
	items  map[string]*models.Item
	nextID int
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{items: make(map[string]*models.Item)}
}

func (f *fakeItemRepo) add(it *models.Item) *models.Item {
	f.items[it.ID] = it
	return it
}

func (f *fakeItemRepo) Create(ctx context.Context, req item.CreateRequest) (*models.Item, error) {
	f.nextID++
	ext := req.ExternalItemID
	it := &models.Item{
		ID:                  fmt.Sprintf("item-%d", f.nextID),
		ClientID:            req.ClientID,
		ExternalItemID:      &ext,
		InstitutionID:       req.InstitutionID,
		InstitutionName:     req.InstitutionName,
		EncryptedCredential: req.EncryptedCredential,
		CredentialKeyID:     req.CredentialKeyID,
		Status:              models.ItemStatusActive,
	}
	f.items[it.ID] = it
	return it, nil
}

func (f *fakeItemRepo) GetByID(ctx context.Context, id string) (*models.Item, error) {
	return f.items[id], nil
}

func (f *fakeItemRepo) GetByExternalID(ctx context.Context, externalItemID string) (*models.Item, error) {
	for _, it := range f.items {
		if it.ExternalItemID != nil && *it.ExternalItemID == externalItemID && !it.IsArchived {
			return it, nil
		}
	}
	return nil, nil
}

func (f *fakeItemRepo) GetByClientAndInstitution(ctx context.Context, clientID, institutionID string, archived bool) (*models.Item, error) {
	for _, it := range f.items {
		if it.ClientID == clientID && it.InstitutionID == institutionID && it.IsArchived == archived {
			return it, nil
		}
	}
	return nil, nil
}

func (f *fakeItemRepo) ListByClient(ctx context.Context, clientID string) ([]models.Item, error) {
	return nil, nil
}

func (f *fakeItemRepo) Relink(ctx context.Context, id string, req item.RelinkRequest) error {
	it, ok := f.items[id]
	if !ok {
		return errors.New("no such item")
	}
	ext := req.ExternalItemID
	it.ExternalItemID = &ext
	it.EncryptedCredential = req.EncryptedCredential
	it.CredentialKeyID = req.CredentialKeyID
	it.Status = models.ItemStatusActive
	it.LastErrorCode = nil
	it.LastErrorMessage = nil
	it.IsArchived = false
	return nil
}

func (f *fakeItemRepo) SetStatus(ctx context.Context, externalItemID string, status models.ItemStatus, errorCode, errorMessage *string) error {
	return nil
}
func (f *fakeItemRepo) SetHasSyncUpdates(ctx context.Context, externalItemID string, hasUpdates bool) error {
	return nil
}
func (f *fakeItemRepo) Archive(ctx context.Context, id string) error { return nil }
func (f *fakeItemRepo) CommitSync(ctx context.Context, id, cursor string) error {
	return nil
}

type fakeAccountRepo struct {
	accounts map[string]*models.Account
	nextID   int
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*models.Account)}
}

func (f *fakeAccountRepo) Create(ctx context.Context, req account.UpsertRequest) (*models.Account, error) {
	f.nextID++
	a := &models.Account{
		ID:                fmt.Sprintf("acct-%d", f.nextID),
		ItemID:            req.ItemID,
		ExternalAccountID: req.ExternalAccountID,
		Name:              req.Name,
		Type:              req.Type,
		Subtype:           req.Subtype,
		Mask:              req.Mask,
		IsActive:          true,
	}
	f.accounts[a.ID] = a
	return a, nil
}

func (f *fakeAccountRepo) Update(ctx context.Context, id string, req account.UpsertRequest) error {
	a, ok := f.accounts[id]
	if !ok {
		return errors.New("no such account")
	}
	a.Name = req.Name
	a.Type = req.Type
	a.Subtype = req.Subtype
	a.Mask = req.Mask
	a.IsActive = true
	return nil
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return f.accounts[id], nil
}

func (f *fakeAccountRepo) GetByItem(ctx context.Context, itemID string) ([]models.Account, error) {
	var out []models.Account
	for _, a := range f.accounts {
		if a.ItemID == itemID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) GetByExternalID(ctx context.Context, itemID, externalAccountID string) (*models.Account, error) {
	for _, a := range f.accounts {
		if a.ItemID == itemID && a.ExternalAccountID == externalAccountID {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) FindUnlinkedMatch(ctx context.Context, itemID, accountType, accountSubtype string, mask *string) (*models.Account, error) {
	for _, a := range f.accounts {
		if a.ItemID != itemID || a.Type != accountType || a.Subtype != accountSubtype {
			continue
		}
		if mask == nil && a.Mask == nil {
			return a, nil
		}
		if mask != nil && a.Mask != nil && *mask == *a.Mask {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) Reactivate(ctx context.Context, id, externalAccountID string) error {
	a, ok := f.accounts[id]
	if !ok {
		return errors.New("no such account")
	}
	a.ExternalAccountID = externalAccountID
	a.IsActive = true
	return nil
}

func (f *fakeAccountRepo) DeactivateByExternalID(ctx context.Context, itemID, externalAccountID string) (bool, error) {
	for _, a := range f.accounts {
		if a.ItemID == itemID && a.ExternalAccountID == externalAccountID {
			a.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccountRepo) DeactivateExcept(ctx context.Context, itemID string, keepExternalIDs []string) (int64, error) {
	keep := make(map[string]bool, len(keepExternalIDs))
	for _, id := range keepExternalIDs {
		keep[id] = true
	}
	var n int64
	for _, a := range f.accounts {
		if a.ItemID == itemID && a.IsActive && !keep[a.ExternalAccountID] {
			a.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeAccountRepo) DeactivateByItem(ctx context.Context, itemID string) error {
	for _, a := range f.accounts {
		if a.ItemID == itemID {
			a.IsActive = false
		}
	}
	return nil
}

type fakeTokenRepo struct {
	tokens          map[string]*models.LinkToken
	sessionStatuses map[string]string
	used            map[string]bool
}

func newFakeTokenRepo(tokens ...*models.LinkToken) *fakeTokenRepo {
	f := &fakeTokenRepo{
		tokens:          make(map[string]*models.LinkToken),
		sessionStatuses: make(map[string]string),
		used:            make(map[string]bool),
	}
	for _, tok := range tokens {
		f.tokens[tok.Token] = tok
	}
	return f
}

func (f *fakeTokenRepo) Create(ctx context.Context, req linktoken.CreateRequest) (*models.LinkToken, error) {
	return nil, nil
}

func (f *fakeTokenRepo) GetByToken(ctx context.Context, token string) (*models.LinkToken, error) {
	return f.tokens[token], nil
}

func (f *fakeTokenRepo) RecordSessionStatus(ctx context.Context, id, sessionStatus string, sessionError *string) error {
	f.sessionStatuses[id] = sessionStatus
	return nil
}

func (f *fakeTokenRepo) MarkUsed(ctx context.Context, id string) error {
	f.used[id] = true
	return nil
}

type fakeProvider struct {
	exchanges map[string]*provider.ExchangeResult
	metadata  map[provider.Credential]*provider.ItemMetadata
	accounts  map[provider.Credential][]provider.Account
	revoked   []provider.Credential
}

func (f *fakeProvider) ExchangeToken(ctx context.Context, temporaryToken string) (*provider.ExchangeResult, error) {
	res, ok := f.exchanges[temporaryToken]
	if !ok {
		return nil, errors.New("exchange refused")
	}
	return res, nil
}

func (f *fakeProvider) GetItem(ctx context.Context, credential provider.Credential) (*provider.ItemMetadata, error) {
	meta, ok := f.metadata[credential]
	if !ok {
		return nil, errors.New("unknown credential")
	}
	return meta, nil
}

func (f *fakeProvider) GetAccounts(ctx context.Context, credential provider.Credential) ([]provider.Account, error) {
	return f.accounts[credential], nil
}

func (f *fakeProvider) SyncTransactions(ctx context.Context, credential provider.Credential, cursor *string) (*provider.SyncPage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) RevokeCredential(ctx context.Context, credential provider.Credential) error {
	f.revoked = append(f.revoked, credential)
	return nil
}

func (f *fakeProvider) CreateLinkSession(ctx context.Context, sctx provider.SessionContext) (*provider.LinkSession, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) FireTestWebhook(ctx context.Context, credential provider.Credential, code string) error {
	return nil
}

func newTestReconciler(t *testing.T, items *fakeItemRepo, accounts *fakeAccountRepo, tokens *fakeTokenRepo, client *fakeProvider) *Reconciler {
	t.Helper()
	return NewReconciler(items, accounts, tokens, client, testVault(t), events.NewEmitter(nil, testLogger()), testLogger())
}

func sessionPayload(linkToken, status string, temporaryTokens ...string) *models.WebhookPayload {
	return &models.WebhookPayload{
		Type:            "SESSION",
		Code:            "SESSION_FINISHED",
		LinkToken:       linkToken,
		SessionStatus:   status,
		TemporaryTokens: temporaryTokens,
	}
}

func TestReconcile_UnknownTokenFails(t *testing.T) {
	r := newTestReconciler(t, newFakeItemRepo(), newFakeAccountRepo(), newFakeTokenRepo(), &fakeProvider{})

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("nope", "success", "tt-1"))
	assert.Error(t, err)
}

func TestReconcile_UsedTokenIsNoop(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusUsed})
	r := newTestReconciler(t, newFakeItemRepo(), newFakeAccountRepo(), tokens, &fakeProvider{})

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "success", "tt-1"))
	require.NoError(t, err)
	assert.Empty(t, tokens.sessionStatuses, "consumed token must not be touched again")
}

func TestReconcile_FailedSessionRecordsStatusAndStops(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusPending})
	items := newFakeItemRepo()
	r := newTestReconciler(t, items, newFakeAccountRepo(), tokens, &fakeProvider{})

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "abandoned"))
	require.NoError(t, err)
	assert.Equal(t, "abandoned", tokens.sessionStatuses["lt-1"])
	assert.False(t, tokens.used["lt-1"])
	assert.Empty(t, items.items)
}

func TestReconcile_NewLinkCreatesItemAndAccounts(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusPending})
	items := newFakeItemRepo()
	accounts := newFakeAccountRepo()
	client := &fakeProvider{
		exchanges: map[string]*provider.ExchangeResult{
			"tt-1": {Credential: "cred-1", ExternalItemID: "ext-1"},
		},
		metadata: map[provider.Credential]*provider.ItemMetadata{
			"cred-1": {ExternalItemID: "ext-1", InstitutionID: "ins_1", InstitutionName: "First Bank"},
		},
		accounts: map[provider.Credential][]provider.Account{
			"cred-1": {
				{ExternalAccountID: "a1", Name: "Checking", Type: "depository", Subtype: "checking"},
				{ExternalAccountID: "a2", Name: "Savings", Type: "depository", Subtype: "savings"},
			},
		},
	}
	r := newTestReconciler(t, items, accounts, tokens, client)

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "success", "tt-1"))
	require.NoError(t, err)

	require.Len(t, items.items, 1)
	for _, it := range items.items {
		assert.Equal(t, "c1", it.ClientID)
		assert.Equal(t, "ins_1", it.InstitutionID)
		assert.NotEmpty(t, it.EncryptedCredential)
		assert.NotEqual(t, "cred-1", it.EncryptedCredential)
	}
	assert.Len(t, accounts.accounts, 2)
	assert.True(t, tokens.used["lt-1"])
}

func TestReconcile_UpdateModeRelinksInPlace(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusPending})
	items := newFakeItemRepo()
	ext := "ext-1"
	errCode := "ITEM_LOGIN_REQUIRED"
	items.add(&models.Item{
		ID: "item-existing", ClientID: "c1", ExternalItemID: &ext,
		InstitutionID: "ins_1", Status: models.ItemStatusLoginRequired, LastErrorCode: &errCode,
	})
	client := &fakeProvider{
		exchanges: map[string]*provider.ExchangeResult{
			"tt-1": {Credential: "cred-new", ExternalItemID: "ext-1"},
		},
		metadata: map[provider.Credential]*provider.ItemMetadata{
			"cred-new": {ExternalItemID: "ext-1", InstitutionID: "ins_1", InstitutionName: "First Bank"},
		},
		accounts: map[provider.Credential][]provider.Account{},
	}
	r := newTestReconciler(t, items, newFakeAccountRepo(), tokens, client)

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "success", "tt-1"))
	require.NoError(t, err)

	require.Len(t, items.items, 1)
	it := items.items["item-existing"]
	assert.Equal(t, models.ItemStatusActive, it.Status)
	assert.Nil(t, it.LastErrorCode)
}

func TestReconcile_CollisionLandsOnStoredItemAndRevokesOldCredential(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusPending})
	items := newFakeItemRepo()
	accounts := newFakeAccountRepo()
	g := testVault(t)
	oldCipher, oldKeyID, err := g.Encrypt(context.Background(), []byte("cred-old"))
	require.NoError(t, err)
	oldExt := "ext-old"
	items.add(&models.Item{
		ID: "item-stored", ClientID: "c1", ExternalItemID: &oldExt,
		InstitutionID: "ins_1", Status: models.ItemStatusActive,
		EncryptedCredential: oldCipher, CredentialKeyID: oldKeyID,
	})
	client := &fakeProvider{
		exchanges: map[string]*provider.ExchangeResult{
			"tt-1": {Credential: "cred-new", ExternalItemID: "ext-new"},
		},
		metadata: map[provider.Credential]*provider.ItemMetadata{
			"cred-new": {ExternalItemID: "ext-new", InstitutionID: "ins_1", InstitutionName: "First Bank"},
		},
		accounts: map[provider.Credential][]provider.Account{},
	}
	r := NewReconciler(items, accounts, tokens, client, g, events.NewEmitter(nil, testLogger()), testLogger())

	err = r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "success", "tt-1"))
	require.NoError(t, err)

	require.Len(t, items.items, 1, "collision must not create a second item")
	it := items.items["item-stored"]
	assert.Equal(t, "ext-new", *it.ExternalItemID)
	require.Len(t, client.revoked, 1)
	assert.Equal(t, provider.Credential("cred-old"), client.revoked[0])
}

func TestReconcile_ArchivedItemRestored(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusPending})
	items := newFakeItemRepo()
	oldExt := "ext-old"
	items.add(&models.Item{
		ID: "item-archived", ClientID: "c1", ExternalItemID: &oldExt,
		InstitutionID: "ins_1", Status: models.ItemStatusArchived, IsArchived: true,
	})
	client := &fakeProvider{
		exchanges: map[string]*provider.ExchangeResult{
			"tt-1": {Credential: "cred-new", ExternalItemID: "ext-new"},
		},
		metadata: map[provider.Credential]*provider.ItemMetadata{
			"cred-new": {ExternalItemID: "ext-new", InstitutionID: "ins_1", InstitutionName: "First Bank"},
		},
		accounts: map[provider.Credential][]provider.Account{},
	}
	r := newTestReconciler(t, items, newFakeAccountRepo(), tokens, client)

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "success", "tt-1"))
	require.NoError(t, err)

	require.Len(t, items.items, 1)
	it := items.items["item-archived"]
	assert.False(t, it.IsArchived)
	assert.Equal(t, models.ItemStatusActive, it.Status)
	assert.Equal(t, "ext-new", *it.ExternalItemID)
}

func TestReconcile_TokenFailuresAreIsolated(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusPending})
	items := newFakeItemRepo()
	client := &fakeProvider{
		exchanges: map[string]*provider.ExchangeResult{
			"tt-good": {Credential: "cred-1", ExternalItemID: "ext-1"},
			// tt-bad missing: exchange refused
		},
		metadata: map[provider.Credential]*provider.ItemMetadata{
			"cred-1": {ExternalItemID: "ext-1", InstitutionID: "ins_1", InstitutionName: "First Bank"},
		},
		accounts: map[provider.Credential][]provider.Account{},
	}
	r := newTestReconciler(t, items, newFakeAccountRepo(), tokens, client)

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "success", "tt-bad", "tt-good"))
	require.NoError(t, err, "one failing token must not fail the event")
	assert.Len(t, items.items, 1)
	assert.True(t, tokens.used["lt-1"])
}

func TestReconcile_AllTokensFailingFailsEvent(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusPending})
	r := newTestReconciler(t, newFakeItemRepo(), newFakeAccountRepo(), tokens, &fakeProvider{})

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "success", "tt-1", "tt-2"))
	assert.Error(t, err)
	assert.False(t, tokens.used["lt-1"])
}

func TestReconcile_RotatedAccountIDRebindsByShape(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusPending})
	items := newFakeItemRepo()
	ext := "ext-1"
	items.add(&models.Item{
		ID: "item-1", ClientID: "c1", ExternalItemID: &ext,
		InstitutionID: "ins_1", Status: models.ItemStatusActive,
	})
	accounts := newFakeAccountRepo()
	mask := "1234"
	accounts.accounts["acct-old"] = &models.Account{
		ID: "acct-old", ItemID: "item-1", ExternalAccountID: "rotated-away",
		Type: "depository", Subtype: "checking", Mask: &mask, IsActive: true,
	}
	client := &fakeProvider{
		exchanges: map[string]*provider.ExchangeResult{
			"tt-1": {Credential: "cred-1", ExternalItemID: "ext-1"},
		},
		metadata: map[provider.Credential]*provider.ItemMetadata{
			"cred-1": {ExternalItemID: "ext-1", InstitutionID: "ins_1", InstitutionName: "First Bank"},
		},
		accounts: map[provider.Credential][]provider.Account{
			"cred-1": {
				{ExternalAccountID: "fresh-id", Name: "Checking", Type: "depository", Subtype: "checking", Mask: &mask},
			},
		},
	}
	r := newTestReconciler(t, items, accounts, tokens, client)

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "success", "tt-1"))
	require.NoError(t, err)

	require.Len(t, accounts.accounts, 1, "shape match must rebind, not create")
	a := accounts.accounts["acct-old"]
	assert.Equal(t, "fresh-id", a.ExternalAccountID)
	assert.True(t, a.IsActive)
}

func TestReconcile_UppercaseShapeRebindsOnRelink(t *testing.T) {
	tokens := newFakeTokenRepo(
		&models.LinkToken{ID: "lt-1", Token: "tok-1", ClientID: "c1", Status: models.LinkTokenStatusPending},
		&models.LinkToken{ID: "lt-2", Token: "tok-2", ClientID: "c1", Status: models.LinkTokenStatusPending},
	)
	items := newFakeItemRepo()
	accounts := newFakeAccountRepo()
	mask := "1234"
	client := &fakeProvider{
		exchanges: map[string]*provider.ExchangeResult{
			"tt-1": {Credential: "cred-1", ExternalItemID: "ext-1"},
			"tt-2": {Credential: "cred-2", ExternalItemID: "ext-1"},
		},
		metadata: map[provider.Credential]*provider.ItemMetadata{
			"cred-1": {ExternalItemID: "ext-1", InstitutionID: "ins_1", InstitutionName: "First Bank"},
			"cred-2": {ExternalItemID: "ext-1", InstitutionID: "ins_1", InstitutionName: "First Bank"},
		},
		accounts: map[provider.Credential][]provider.Account{
			"cred-1": {
				{ExternalAccountID: "old-id", Name: "Checking", Type: "DEPOSITORY", Subtype: "CHECKING", Mask: &mask},
			},
			"cred-2": {
				{ExternalAccountID: "new-id", Name: "Checking", Type: "DEPOSITORY", Subtype: "CHECKING", Mask: &mask},
			},
		},
	}
	r := newTestReconciler(t, items, accounts, tokens, client)

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok-1", "success", "tt-1"))
	require.NoError(t, err)
	require.Len(t, accounts.accounts, 1)

	err = r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok-2", "success", "tt-2"))
	require.NoError(t, err)

	require.Len(t, accounts.accounts, 1, "shape match must rebind, not create")
	for _, a := range accounts.accounts {
		assert.Equal(t, "new-id", a.ExternalAccountID)
		assert.Equal(t, "depository", a.Type)
		assert.Equal(t, "checking", a.Subtype)
		assert.True(t, a.IsActive)
	}
}

func TestReconcile_UntouchedAccountsDeactivated(t *testing.T) {
	tokens := newFakeTokenRepo(&models.LinkToken{ID: "lt-1", Token: "tok", ClientID: "c1", Status: models.LinkTokenStatusPending})
	items := newFakeItemRepo()
	ext := "ext-1"
	items.add(&models.Item{
		ID: "item-1", ClientID: "c1", ExternalItemID: &ext,
		InstitutionID: "ins_1", Status: models.ItemStatusActive,
	})
	accounts := newFakeAccountRepo()
	accounts.accounts["acct-kept"] = &models.Account{
		ID: "acct-kept", ItemID: "item-1", ExternalAccountID: "a1",
		Type: "depository", Subtype: "checking", IsActive: true,
	}
	accounts.accounts["acct-gone"] = &models.Account{
		ID: "acct-gone", ItemID: "item-1", ExternalAccountID: "a2",
		Type: "credit", Subtype: "credit card", IsActive: true,
	}
	client := &fakeProvider{
		exchanges: map[string]*provider.ExchangeResult{
			"tt-1": {Credential: "cred-1", ExternalItemID: "ext-1"},
		},
		metadata: map[provider.Credential]*provider.ItemMetadata{
			"cred-1": {ExternalItemID: "ext-1", InstitutionID: "ins_1", InstitutionName: "First Bank"},
		},
		accounts: map[provider.Credential][]provider.Account{
			"cred-1": {
				{ExternalAccountID: "a1", Name: "Checking", Type: "depository", Subtype: "checking"},
			},
		},
	}
	r := newTestReconciler(t, items, accounts, tokens, client)

	err := r.Reconcile(context.Background(), &models.WebhookEvent{}, sessionPayload("tok", "success", "tt-1"))
	require.NoError(t, err)

	assert.True(t, accounts.accounts["acct-kept"].IsActive)
	assert.False(t, accounts.accounts["acct-gone"].IsActive)
}
