package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/flowpay/ledger-backend/internal/models"
)

var (
	// ErrEventNotFound is returned when no webhook event matches the id.
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrInvalidTransition is returned when a status update would violate
	// the event state machine.
	ErrInvalidTransition = errors.New("invalid webhook event state transition")
)

// WebhookEventService is the durable append-only log of received webhooks.
// Events are never deleted; processing outcome is tracked by guarded status
// updates enforcing RECEIVED -> PROCESSING -> PROCESSED | FAILED, with
// FAILED -> PROCESSING permitted for operator retries.
type WebhookEventService struct {
	db *sql.DB
}

func NewWebhookEventService(db *sql.DB) *WebhookEventService {
	return &WebhookEventService{db: db}
}

// Record persists a verified webhook delivery. The unique
// (provider, event_id) constraint means a concurrent duplicate resolves to
// the already-stored event rather than a new row.
func (s *WebhookEventService) Record(ctx context.Context, provider models.Provider, eventID, eventType string, payload json.RawMessage) (*models.WebhookEvent, error) {
	event := &models.WebhookEvent{
		ID:         uuid.NewString(),
		Provider:   provider,
		EventID:    eventID,
		EventType:  eventType,
		Payload:    payload,
		Status:     models.WebhookStatusReceived,
		ReceivedAt: time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, provider, event_id, event_type, payload, status, retry_count, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)`,
		event.ID, string(event.Provider), event.EventID, event.EventType,
		[]byte(event.Payload), event.Status, event.ReceivedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return s.findByProviderEventID(ctx, provider, eventID)
		}
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}

	return event, nil
}

// MarkProcessing moves an event into PROCESSING. Only RECEIVED and FAILED
// events are eligible; a retry from FAILED increments the retry counter.
func (s *WebhookEventService) MarkProcessing(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1,
		    retry_count = retry_count + CASE WHEN status = $2 THEN 1 ELSE 0 END
		WHERE id = $3 AND status IN ($4, $2)`,
		models.WebhookStatusProcessing, models.WebhookStatusFailed,
		id, models.WebhookStatusReceived)
	if err != nil {
		return fmt.Errorf("failed to mark event processing: %w", err)
	}
	return s.checkTransition(result, id)
}

// MarkProcessed finishes a PROCESSING event. A note records business no-ops
// (unknown event type, no matching transaction) for visibility.
func (s *WebhookEventService) MarkProcessed(ctx context.Context, id, note string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1, error_message = $2, processed_at = $3
		WHERE id = $4 AND status = $5`,
		models.WebhookStatusProcessed, note, time.Now(),
		id, models.WebhookStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return s.checkTransition(result, id)
}

// MarkFailed finishes a PROCESSING event with an error. The message lands
// in the durable row only; the HTTP layer never leaks it to the provider.
func (s *WebhookEventService) MarkFailed(ctx context.Context, id, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1, error_message = $2, processed_at = $3
		WHERE id = $4 AND status = $5`,
		models.WebhookStatusFailed, errMsg, time.Now(),
		id, models.WebhookStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return s.checkTransition(result, id)
}

// Get fetches a single event by id.
func (s *WebhookEventService) Get(ctx context.Context, id string) (*models.WebhookEvent, error) {
	return s.scanEvent(s.db.QueryRowContext(ctx, `
		SELECT id, provider, event_id, event_type, payload, status,
		       COALESCE(error_message, ''), retry_count, received_at, processed_at
		FROM webhook_events
		WHERE id = $1`, id))
}

// List returns events newest-first, optionally filtered by provider and
// status.
func (s *WebhookEventService) List(ctx context.Context, provider, status string, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, provider, event_id, event_type, payload, status,
		       COALESCE(error_message, ''), retry_count, received_at, processed_at
		FROM webhook_events
		WHERE ($1 = '' OR provider = $1) AND ($2 = '' OR status = $2)
		ORDER BY received_at DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, provider, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	events := []models.WebhookEvent{}
	for rows.Next() {
		event, err := s.scanEventRows(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func (s *WebhookEventService) findByProviderEventID(ctx context.Context, provider models.Provider, eventID string) (*models.WebhookEvent, error) {
	return s.scanEvent(s.db.QueryRowContext(ctx, `
		SELECT id, provider, event_id, event_type, payload, status,
		       COALESCE(error_message, ''), retry_count, received_at, processed_at
		FROM webhook_events
		WHERE provider = $1 AND event_id = $2`, string(provider), eventID))
}

func (s *WebhookEventService) checkTransition(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: event %s", ErrInvalidTransition, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *WebhookEventService) scanEvent(row *sql.Row) (*models.WebhookEvent, error) {
	event, err := scanWebhookEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return event, err
}

func (s *WebhookEventService) scanEventRows(rows *sql.Rows) (*models.WebhookEvent, error) {
	return scanWebhookEvent(rows)
}

func scanWebhookEvent(row rowScanner) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	var provider string
	var payload []byte
	var processedAt sql.NullTime

	err := row.Scan(&event.ID, &provider, &event.EventID, &event.EventType,
		&payload, &event.Status, &event.ErrorMessage, &event.RetryCount,
		&event.ReceivedAt, &processedAt)
	if err != nil {
		return nil, err
	}

	event.Provider = models.Provider(provider)
	event.Payload = json.RawMessage(payload)
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	return &event, nil
}
