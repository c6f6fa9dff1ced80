// Package linker turns completed linking sessions into stored connections.
package linker

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/account"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/linktoken"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/events"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/metrics"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/provider"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/vault"
)

// Session statuses the linking UI reports. Anything other than success means
// the attempt produced no credential to exchange.
const sessionStatusSuccess = "success"

// Reconciler processes session-completion events: it exchanges each temporary
// token for a credential, stores or updates the item, and reconciles its
// account list.
type Reconciler struct {
	items    item.ItemRepository
	accounts account.AccountRepository
	tokens   linktoken.LinkTokenRepository
	client   provider.Client
	vault    *vault.Gateway
	emitter  *events.Emitter
	logger   ectologger.Logger
}

// NewReconciler creates a new session reconciler
func NewReconciler(
	items item.ItemRepository,
	accounts account.AccountRepository,
	tokens linktoken.LinkTokenRepository,
	client provider.Client,
	vault *vault.Gateway,
	emitter *events.Emitter,
	logger ectologger.Logger,
) *Reconciler {
	return &Reconciler{
		items:    items,
		accounts: accounts,
		tokens:   tokens,
		client:   client,
		vault:    vault,
		emitter:  emitter,
		logger:   logger,
	}
}

// Reconcile handles one session-completion event. Token failures are isolated:
// one temporary token failing to exchange does not stop the rest, and the event
// fails only if every token failed.
func (r *Reconciler) Reconcile(ctx context.Context, event *models.WebhookEvent, payload *models.WebhookPayload) error {
	ctx, span := tracing.StartSpan(ctx, "Reconciler.Reconcile")
	defer span.End()

	if payload.LinkToken == "" {
		return errors.New("session event carries no link token")
	}

	token, err := r.tokens.GetByToken(ctx, payload.LinkToken)
	if err != nil {
		return errors.Wrap(err, "failed to resolve link token")
	}
	if token == nil {
		return errors.Errorf("unknown link token %q", payload.LinkToken)
	}
	if token.Status == models.LinkTokenStatusUsed {
		r.logger.WithContext(ctx).WithField("link_token_id", token.ID).Info("link token already consumed, skipping")
		return nil
	}

	var sessionErr *string
	if payload.Error != nil {
		msg := payload.Error.Message
		sessionErr = &msg
	}
	if err := r.tokens.RecordSessionStatus(ctx, token.ID, payload.SessionStatus, sessionErr); err != nil {
		return errors.Wrap(err, "failed to record session status")
	}
	metrics.RecordLinkSession(payload.SessionStatus)

	if payload.SessionStatus != sessionStatusSuccess {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"link_token_id":  token.ID,
			"session_status": payload.SessionStatus,
		}).Info("session did not complete successfully, nothing to exchange")
		return nil
	}

	temporaryTokens := payload.Tokens()
	if len(temporaryTokens) == 0 {
		return errors.New("successful session carries no temporary tokens")
	}

	var firstErr error
	failures := 0
	for _, tt := range temporaryTokens {
		if err := r.linkOne(ctx, token.ClientID, tt); err != nil {
			failures++
			if firstErr == nil {
				firstErr = err
			}
			r.logger.WithContext(ctx).WithError(err).WithField("client_id", token.ClientID).Error("failed to link institution from session")
		}
	}

	if failures == len(temporaryTokens) {
		return errors.Wrap(firstErr, "every token in the session failed")
	}

	if err := r.tokens.MarkUsed(ctx, token.ID); err != nil {
		return errors.Wrap(err, "failed to consume link token")
	}

	return nil
}

// linkOne exchanges a single temporary token and lands the resulting
// connection through the duplicate-prevention ladder.
func (r *Reconciler) linkOne(ctx context.Context, clientID, temporaryToken string) error {
	ctx, span := tracing.StartSpan(ctx, "Reconciler.linkOne")
	defer span.End()

	exchange, err := r.client.ExchangeToken(ctx, temporaryToken)
	if err != nil {
		return errors.Wrap(err, "token exchange failed")
	}

	meta, err := r.client.GetItem(ctx, exchange.Credential)
	if err != nil {
		return errors.Wrap(err, "failed to fetch item metadata")
	}

	encrypted, keyID, err := r.vault.Encrypt(ctx, []byte(exchange.Credential))
	if err != nil {
		return errors.Wrap(err, "failed to encrypt credential")
	}

	target, err := r.placeItem(ctx, clientID, exchange, meta, encrypted, keyID)
	if err != nil {
		return err
	}

	if err := r.reconcileAccounts(ctx, target, exchange.Credential); err != nil {
		return err
	}

	r.emitter.ItemLinked(ctx, target.ClientID, target.ID, meta.InstitutionID)
	return nil
}

// placeItem walks the duplicate-prevention ladder:
//  1. the provider item id is already stored: update-mode relink, refresh in place
//  2. an active item exists for (client, institution): collision, keep the
//     stored row and rebind it to the new credential, revoking the old one
//  3. an archived item exists for (client, institution): restore it
//  4. otherwise create a new item
func (r *Reconciler) placeItem(ctx context.Context, clientID string, exchange *provider.ExchangeResult, meta *provider.ItemMetadata, encrypted, keyID string) (*models.Item, error) {
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"client_id":      clientID,
		"institution_id": meta.InstitutionID,
	})

	relink := item.RelinkRequest{
		ExternalItemID:      exchange.ExternalItemID,
		EncryptedCredential: encrypted,
		CredentialKeyID:     keyID,
	}

	existing, err := r.items.GetByExternalID(ctx, exchange.ExternalItemID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up item by external id")
	}
	if existing != nil {
		if err := r.items.Relink(ctx, existing.ID, relink); err != nil {
			return nil, err
		}
		log.WithField("item_id", existing.ID).Info("refreshed existing connection")
		return r.items.GetByID(ctx, existing.ID)
	}

	active, err := r.items.GetByClientAndInstitution(ctx, clientID, meta.InstitutionID, false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up active item at institution")
	}
	if active != nil {
		// Collision: the client linked the same institution twice. Keep the
		// stored row so nothing downstream dangles, swap in the new
		// credential, and retire the one it replaces at the provider.
		r.revokeStored(ctx, active)
		if err := r.items.Relink(ctx, active.ID, relink); err != nil {
			return nil, err
		}
		log.WithField("item_id", active.ID).Info("duplicate link collision resolved onto existing item")
		return r.items.GetByID(ctx, active.ID)
	}

	archived, err := r.items.GetByClientAndInstitution(ctx, clientID, meta.InstitutionID, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up archived item at institution")
	}
	if archived != nil {
		if err := r.items.Relink(ctx, archived.ID, relink); err != nil {
			return nil, err
		}
		log.WithField("item_id", archived.ID).Info("restored archived connection")
		return r.items.GetByID(ctx, archived.ID)
	}

	created, err := r.items.Create(ctx, item.CreateRequest{
		ClientID:            clientID,
		ExternalItemID:      exchange.ExternalItemID,
		InstitutionID:       meta.InstitutionID,
		InstitutionName:     meta.InstitutionName,
		EncryptedCredential: encrypted,
		CredentialKeyID:     keyID,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("item_id", created.ID).Info("linked new institution")
	return created, nil
}

// revokeStored best-effort invalidates the credential currently on the item.
// Failures are logged and swallowed; many institutions invalidate the old
// credential on their own when a new link lands.
func (r *Reconciler) revokeStored(ctx context.Context, it *models.Item) {
	plaintext, err := r.vault.Decrypt(ctx, it.EncryptedCredential, it.CredentialKeyID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("item_id", it.ID).Warn("could not decrypt stored credential for revocation")
		return
	}
	if err := r.client.RevokeCredential(ctx, provider.Credential(plaintext)); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("item_id", it.ID).Warn("credential revocation failed")
	}
}

// reconcileAccounts merges the provider's current account list into storage.
// Accounts are matched by external id first, then by shape for rows whose
// external id the institution rotated, and anything untouched goes dormant.
func (r *Reconciler) reconcileAccounts(ctx context.Context, it *models.Item, credential provider.Credential) error {
	ctx, span := tracing.StartSpan(ctx, "Reconciler.reconcileAccounts")
	defer span.End()

	reported, err := r.client.GetAccounts(ctx, credential)
	if err != nil {
		return errors.Wrap(err, "failed to fetch accounts")
	}

	keep := make([]string, 0, len(reported))
	for _, acct := range reported {
		keep = append(keep, acct.ExternalAccountID)
		if err := r.reconcileOne(ctx, it.ID, acct); err != nil {
			return err
		}
	}

	dropped, err := r.accounts.DeactivateExcept(ctx, it.ID, keep)
	if err != nil {
		return err
	}
	if dropped > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"item_id": it.ID,
			"count":   dropped,
		}).Info("deactivated accounts no longer reported")
	}

	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, itemID string, acct provider.Account) error {
	// Type and subtype are normalized before they are written so that shape
	// matching on a later re-link compares like with like; institutions are
	// not consistent about casing across deliveries.
	req := account.UpsertRequest{
		ItemID:            itemID,
		ExternalAccountID: acct.ExternalAccountID,
		Name:              acct.Name,
		OfficialName:      acct.OfficialName,
		Mask:              acct.Mask,
		Type:              normalizeType(acct.Type),
		Subtype:           normalizeType(acct.Subtype),
		CurrentBalance:    acct.CurrentBalance,
		AvailableBalance:  acct.AvailableBalance,
		CurrencyCode:      acct.CurrencyCode,
	}

	existing, err := r.accounts.GetByExternalID(ctx, itemID, acct.ExternalAccountID)
	if err != nil {
		return err
	}
	if existing != nil {
		return r.accounts.Update(ctx, existing.ID, req)
	}

	// The institution may have rotated the external id across a re-link.
	// Rebind the stored row when one matches on shape so history stays put.
	match, err := r.accounts.FindUnlinkedMatch(ctx, itemID, req.Type, req.Subtype, acct.Mask)
	if err != nil {
		return err
	}
	if match != nil {
		if err := r.accounts.Reactivate(ctx, match.ID, acct.ExternalAccountID); err != nil {
			return err
		}
		return r.accounts.Update(ctx, match.ID, req)
	}

	_, err = r.accounts.Create(ctx, req)
	return err
}

func normalizeType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
