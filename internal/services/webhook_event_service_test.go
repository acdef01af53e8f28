package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/flowpay/ledger-backend/internal/models"
)

func eventRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "provider", "event_id", "event_type", "payload", "status",
		"error_message", "retry_count", "received_at", "processed_at",
	})
}

func TestWebhookEventService_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWebhookEventService(db)
	ctx := context.Background()
	payload := json.RawMessage(`{"event":"charge.success"}`)

	t.Run("first delivery inserts a RECEIVED row", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO webhook_events").
			WillReturnResult(sqlmock.NewResult(1, 1))

		event, err := service.Record(ctx, models.ProviderPaystack, "evt_1", "charge.success", payload)
		assert.NoError(t, err)
		assert.Equal(t, models.WebhookStatusReceived, event.Status)
		assert.Equal(t, "evt_1", event.EventID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate delivery resolves to the stored row", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO webhook_events").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectQuery("SELECT (.+) FROM webhook_events WHERE provider = \\$1 AND event_id = \\$2").
			WithArgs("paystack", "evt_1").
			WillReturnRows(eventRows().AddRow(
				"stored-id", "paystack", "evt_1", "charge.success", []byte(payload),
				models.WebhookStatusProcessed, "", 0, time.Now(), time.Now()))

		event, err := service.Record(ctx, models.ProviderPaystack, "evt_1", "charge.success", payload)
		assert.NoError(t, err)
		assert.Equal(t, "stored-id", event.ID)
		assert.Equal(t, models.WebhookStatusProcessed, event.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWebhookEventService_StateMachine(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWebhookEventService(db)
	ctx := context.Background()

	t.Run("received to processing", func(t *testing.T) {
		mock.ExpectExec("UPDATE webhook_events").
			WithArgs(models.WebhookStatusProcessing, models.WebhookStatusFailed, "ev-1", models.WebhookStatusReceived).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, service.MarkProcessing(ctx, "ev-1"))
	})

	t.Run("processed event cannot re-enter processing", func(t *testing.T) {
		mock.ExpectExec("UPDATE webhook_events").
			WithArgs(models.WebhookStatusProcessing, models.WebhookStatusFailed, "ev-1", models.WebhookStatusReceived).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.MarkProcessing(ctx, "ev-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("processing to processed", func(t *testing.T) {
		mock.ExpectExec("UPDATE webhook_events").
			WithArgs(models.WebhookStatusProcessed, "handled", sqlmock.AnyArg(), "ev-1", models.WebhookStatusProcessing).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, service.MarkProcessed(ctx, "ev-1", "handled"))
	})

	t.Run("processing to failed keeps the error on the row", func(t *testing.T) {
		mock.ExpectExec("UPDATE webhook_events").
			WithArgs(models.WebhookStatusFailed, "db timeout", sqlmock.AnyArg(), "ev-1", models.WebhookStatusProcessing).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, service.MarkFailed(ctx, "ev-1", "db timeout"))
	})

	t.Run("marking a received event processed is rejected", func(t *testing.T) {
		mock.ExpectExec("UPDATE webhook_events").
			WithArgs(models.WebhookStatusProcessed, "", sqlmock.AnyArg(), "ev-2", models.WebhookStatusProcessing).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.MarkProcessed(ctx, "ev-2", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestWebhookEventService_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWebhookEventService(db)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM webhook_events WHERE id = \\$1").
			WithArgs("ev-1").
			WillReturnRows(eventRows().AddRow(
				"ev-1", "stripe", "evt_9", "charge.succeeded", []byte(`{}`),
				models.WebhookStatusFailed, "handler error", 2, time.Now(), nil))

		event, err := service.Get(ctx, "ev-1")
		assert.NoError(t, err)
		assert.Equal(t, models.ProviderStripe, event.Provider)
		assert.Equal(t, 2, event.RetryCount)
		assert.Nil(t, event.ProcessedAt)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM webhook_events WHERE id = \\$1").
			WithArgs("ev-missing").
			WillReturnRows(eventRows())

		_, err := service.Get(ctx, "ev-missing")
		assert.ErrorIs(t, err, ErrEventNotFound)
	})
}

func TestWebhookEventService_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWebhookEventService(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM webhook_events").
		WithArgs("paystack", models.WebhookStatusFailed, 50).
		WillReturnRows(eventRows().
			AddRow("ev-1", "paystack", "evt_1", "charge.success", []byte(`{}`),
				models.WebhookStatusFailed, "boom", 1, time.Now(), nil).
			AddRow("ev-2", "paystack", "evt_2", "transfer.success", []byte(`{}`),
				models.WebhookStatusFailed, "boom", 0, time.Now(), nil))

	events, err := service.List(ctx, "paystack", models.WebhookStatusFailed, 0)
	assert.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, "transfer.success", events[1].EventType)
}
