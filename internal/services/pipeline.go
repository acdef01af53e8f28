package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/flowpay/ledger-backend/internal/metrics"
	"github.com/flowpay/ledger-backend/internal/models"
)

// WebhookPipeline drives a stored webhook event through dispatch and
// records the outcome on the event row. It is shared by the live webhook
// path and the operator retry path; both are idempotent by construction
// because the handlers are.
type WebhookPipeline struct {
	events     *WebhookEventService
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
}

func NewWebhookPipeline(events *WebhookEventService, dispatcher *Dispatcher, m *metrics.Metrics) *WebhookPipeline {
	return &WebhookPipeline{
		events:     events,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// Process moves the event to PROCESSING, dispatches it and finalizes the
// event row. The returned error is the handler failure, already recorded
// on the event; callers map it to an HTTP 500 without leaking detail.
func (p *WebhookPipeline) Process(ctx context.Context, event *models.WebhookEvent) error {
	if err := p.events.MarkProcessing(ctx, event.ID); err != nil {
		return fmt.Errorf("event %s not eligible for processing: %w", event.ID, err)
	}

	started := time.Now()
	outcome, note, err := p.dispatcher.Dispatch(ctx, event.Provider, event.EventType, event.Payload)
	p.metrics.ObserveHandler(string(event.Provider), event.EventType, time.Since(started).Seconds())

	if err != nil {
		p.metrics.WebhookFailed(string(event.Provider))
		log.Printf("[WEBHOOK] Handler failed for %s/%s event %s: %v", event.Provider, event.EventType, event.EventID, err)
		if markErr := p.events.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			log.Printf("[WEBHOOK] Failed to record handler failure for event %s: %v", event.ID, markErr)
		}
		return err
	}

	if outcome != OutcomeProcessed {
		log.Printf("[WEBHOOK] Event %s (%s/%s) finished as %s: %s", event.EventID, event.Provider, event.EventType, outcome, note)
	}
	return p.events.MarkProcessed(ctx, event.ID, note)
}
