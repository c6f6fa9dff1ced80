package webhooks

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	"github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/webhookevent"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/fingerprint"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

// Gate is the idempotency barrier in front of all event processing. Every
// delivery is logged exactly once; a delivery whose fingerprint already exists
// is surfaced as a duplicate and never reaches a handler.
type Gate struct {
	events webhookevent.WebhookEventRepository
	items  item.ItemRepository
	logger ectologger.Logger
}

// NewGate creates a new event gate
func NewGate(events webhookevent.WebhookEventRepository, items item.ItemRepository, logger ectologger.Logger) *Gate {
	return &Gate{
		events: events,
		items:  items,
		logger: logger,
	}
}

// RecordResult is the gate's verdict on one delivery.
type RecordResult struct {
	Event     *models.WebhookEvent
	Duplicate bool
}

// Record fingerprints the payload, resolves the internal item when the payload
// names one, and appends the delivery to the event log. The second delivery of
// the same logical event comes back with Duplicate set and the original row.
func (g *Gate) Record(ctx context.Context, payload *models.WebhookPayload, arrivedAt time.Time) (*RecordResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Gate.Record")
	defer span.End()

	fp := fingerprint.Generate(fingerprint.Event{
		Type:              payload.Type,
		Code:              payload.Code,
		ExternalItemID:    payload.ItemExternalID,
		ExternalAccountID: payload.AccountExternalID,
		SessionID:         payload.SessionID,
		ArrivedAt:         arrivedAt,
	})

	req := webhookevent.InsertRequest{
		Type:        payload.Type,
		Code:        payload.Code,
		Fingerprint: fp,
		RawPayload:  payload.Raw,
	}
	if payload.ItemExternalID != "" {
		req.ExternalItemID = &payload.ItemExternalID

		// Item resolution is advisory. Events can legitimately arrive for
		// items this side has not stored yet (a session completing) or has
		// already archived.
		existing, err := g.items.GetByExternalID(ctx, payload.ItemExternalID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve item for event")
		}
		if existing != nil {
			req.ItemID = &existing.ID
		}
	}
	if payload.AccountExternalID != "" {
		req.ExternalAccountID = &payload.AccountExternalID
	}
	if payload.SessionID != "" {
		req.SessionID = &payload.SessionID
	}

	event, isNew, err := g.events.Insert(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to log event")
	}

	if !isNew {
		g.logger.WithContext(ctx).WithFields(map[string]any{
			"fingerprint": fp,
			"event_id":    event.ID,
			"code":        payload.Code,
		}).Info("duplicate delivery short-circuited")
	}

	return &RecordResult{Event: event, Duplicate: !isNew}, nil
}

// Finish marks the event processed, recording the handler failure when there
// was one. A failed handler still counts as processed; the fingerprint keeps
// redeliveries of the same event out.
func (g *Gate) Finish(ctx context.Context, eventID string, handlerErr error) error {
	ctx, span := tracing.StartSpan(ctx, "Gate.Finish")
	defer span.End()

	var errMsg *string
	if handlerErr != nil {
		msg := handlerErr.Error()
		errMsg = &msg
	}

	if err := g.events.MarkProcessed(ctx, eventID, errMsg); err != nil {
		return errors.Wrap(err, "failed to finish event")
	}
	return nil
}
