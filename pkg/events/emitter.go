// Package events handles event emission for item lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/kafka"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes item lifecycle events. Emission is advisory: a broker
// failure is logged and swallowed so it never fails the operation that
// produced the event. A nil producer disables emission entirely.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// ItemLinked emits an item.linked event
func (e *Emitter) ItemLinked(ctx context.Context, clientID, itemID, institutionID string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.ItemLinked")
	defer span.End()

	e.publish(ctx, &kafka.ItemEvent{
		EventType:     "item.linked",
		ClientID:      clientID,
		ItemID:        itemID,
		InstitutionID: institutionID,
	})
}

// ItemStatusChanged emits an item.status_changed event
func (e *Emitter) ItemStatusChanged(ctx context.Context, clientID, itemID, status string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.ItemStatusChanged")
	defer span.End()

	e.publish(ctx, &kafka.ItemEvent{
		EventType: "item.status_changed",
		ClientID:  clientID,
		ItemID:    itemID,
		Status:    status,
	})
}

// SyncCompleted emits an item.sync_completed event with sweep counters
func (e *Emitter) SyncCompleted(ctx context.Context, clientID, itemID string, added, modified, removed int) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.SyncCompleted")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"added":          added,
		"modified":       modified,
		"removed":        removed,
	})

	e.publish(ctx, &kafka.ItemEvent{
		EventType: "item.sync_completed",
		ClientID:  clientID,
		ItemID:    itemID,
		Data:      data,
	})
}

func (e *Emitter) publish(ctx context.Context, event *kafka.ItemEvent) {
	if e.producer == nil {
		return
	}
	if err := e.producer.PublishItemEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("event_type", event.EventType).Error("Failed to emit item event")
	}
}
