package webhooks

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/metrics"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

// SessionReconciler turns a completed linking session into stored items and
// accounts.
type SessionReconciler interface {
	Reconcile(ctx context.Context, event *models.WebhookEvent, payload *models.WebhookPayload) error
}

// StatusHandler applies lifecycle events to an existing item.
type StatusHandler interface {
	Apply(ctx context.Context, category string, event *models.WebhookEvent, payload *models.WebhookPayload) error
}

// Outcome is what the transport layer reports back to the provider.
type Outcome struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

const (
	OutcomeSuccess   = "success"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// Dispatcher runs a delivery through the gate and routes it to the handler for
// its category.
type Dispatcher struct {
	gate   *Gate
	linker SessionReconciler
	status StatusHandler
	logger ectologger.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(gate *Gate, linker SessionReconciler, status StatusHandler, logger ectologger.Logger) *Dispatcher {
	return &Dispatcher{
		gate:   gate,
		linker: linker,
		status: status,
		logger: logger,
	}
}

// Handle processes one delivery end to end. Handler failures are recorded on
// the event and reported in the outcome; only a failure to log the delivery in
// the first place returns an error.
func (d *Dispatcher) Handle(ctx context.Context, payload *models.WebhookPayload, arrivedAt time.Time) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.Handle")
	defer span.End()

	if arrivedAt.IsZero() {
		arrivedAt = time.Now()
	}

	rec, err := d.gate.Record(ctx, payload, arrivedAt)
	if err != nil {
		return nil, err
	}
	category := Classify(payload)

	if rec.Duplicate {
		metrics.RecordWebhookEvent(string(category), OutcomeDuplicate)
		return &Outcome{Status: OutcomeDuplicate, EventID: rec.Event.ID}, nil
	}

	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"event_id": rec.Event.ID,
		"code":     payload.Code,
		"category": string(category),
	})
	log.Info("processing event")

	handlerErr := d.route(ctx, category, rec.Event, payload)

	if err := d.gate.Finish(ctx, rec.Event.ID, handlerErr); err != nil {
		log.WithError(err).Error("failed to finalize event")
	}

	if handlerErr != nil {
		log.WithError(handlerErr).Error("event handler failed")
		metrics.RecordWebhookEvent(string(category), OutcomeError)
		return &Outcome{Status: OutcomeError, EventID: rec.Event.ID}, nil
	}

	metrics.RecordWebhookEvent(string(category), OutcomeSuccess)
	return &Outcome{Status: OutcomeSuccess, EventID: rec.Event.ID}, nil
}

func (d *Dispatcher) route(ctx context.Context, category Category, event *models.WebhookEvent, payload *models.WebhookPayload) error {
	switch category {
	case CategorySessionCompleted:
		return d.linker.Reconcile(ctx, event, payload)
	case CategoryUnknown:
		d.logger.WithContext(ctx).WithFields(map[string]any{
			"type": payload.Type,
			"code": payload.Code,
		}).Warn("unrecognized event code, ignoring")
		return nil
	default:
		return d.status.Apply(ctx, string(category), event, payload)
	}
}
