package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowpay/ledger-backend/internal/models"
)

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("registered handler runs", func(t *testing.T) {
		d := NewDispatcher()
		var got json.RawMessage
		d.Register(models.ProviderPaystack, "charge.success", func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
			got = payload
			return OutcomeProcessed, "", nil
		})

		outcome, note, err := d.Dispatch(ctx, models.ProviderPaystack, "charge.success", json.RawMessage(`{"ok":true}`))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, outcome)
		assert.Empty(t, note)
		assert.JSONEq(t, `{"ok":true}`, string(got))
	})

	t.Run("unknown event type is ignored", func(t *testing.T) {
		d := NewDispatcher()

		outcome, note, err := d.Dispatch(ctx, models.ProviderStripe, "customer.created", json.RawMessage(`{}`))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
		assert.Contains(t, note, "customer.created")
	})

	t.Run("provider and event type both key the lookup", func(t *testing.T) {
		d := NewDispatcher()
		d.Register(models.ProviderPaystack, "transfer.success", func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
			return OutcomeProcessed, "", nil
		})

		outcome, _, err := d.Dispatch(ctx, models.ProviderStripe, "transfer.success", json.RawMessage(`{}`))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	})

	t.Run("handler error propagates", func(t *testing.T) {
		d := NewDispatcher()
		boom := errors.New("ledger unavailable")
		d.Register(models.ProviderFlutterwave, "charge.completed", func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
			return "", "", boom
		})

		_, _, err := d.Dispatch(ctx, models.ProviderFlutterwave, "charge.completed", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("re-register replaces the handler", func(t *testing.T) {
		d := NewDispatcher()
		d.Register(models.ProviderPaystack, "charge.success", func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
			return OutcomeSkipped, "old", nil
		})
		d.Register(models.ProviderPaystack, "charge.success", func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
			return OutcomeProcessed, "new", nil
		})

		outcome, note, err := d.Dispatch(ctx, models.ProviderPaystack, "charge.success", json.RawMessage(`{}`))
		assert.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, outcome)
		assert.Equal(t, "new", note)
	})
}
