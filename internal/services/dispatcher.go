package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/flowpay/ledger-backend/internal/models"
)

// Outcome classifies the result of dispatching a webhook event.
type Outcome string

const (
	// OutcomeProcessed means the handler applied a ledger mutation.
	OutcomeProcessed Outcome = "PROCESSED"
	// OutcomeIgnored means no handler is registered for the event type.
	OutcomeIgnored Outcome = "IGNORED"
	// OutcomeSkipped means the handler ran but found nothing to do, e.g.
	// no transaction matches the provider reference. Business data
	// problems are not pipeline failures and must not cause retries.
	OutcomeSkipped Outcome = "SKIPPED"
)

// HandlerFunc processes the parsed payload of one webhook event. Handlers
// must be idempotent at the ledger level: applying the same event twice
// has to leave the ledger unchanged the second time.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (Outcome, string, error)

type dispatchKey struct {
	provider  models.Provider
	eventType string
}

// Dispatcher resolves (provider, event type) to a registered handler.
// Unregistered combinations are logged no-ops so new provider event types
// never break the pipeline.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[dispatchKey]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[dispatchKey]HandlerFunc),
	}
}

// Register binds a handler to a (provider, eventType) pair, replacing any
// existing binding.
func (d *Dispatcher) Register(provider models.Provider, eventType string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[dispatchKey{provider: provider, eventType: eventType}] = handler
}

// Dispatch runs the handler registered for (provider, eventType). The
// returned note describes skipped/ignored outcomes for the event log.
func (d *Dispatcher) Dispatch(ctx context.Context, provider models.Provider, eventType string, payload json.RawMessage) (Outcome, string, error) {
	d.mu.RLock()
	handler, ok := d.handlers[dispatchKey{provider: provider, eventType: eventType}]
	d.mu.RUnlock()

	if !ok {
		log.Printf("[DISPATCH] No handler registered for %s/%s, treating as no-op", provider, eventType)
		return OutcomeIgnored, fmt.Sprintf("no handler registered for event type %q", eventType), nil
	}

	return handler(ctx, payload)
}
