package models

import (
	"encoding/json"
	"time"
)

// Provider identifies the payment provider that delivered a webhook.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderPaystack    Provider = "paystack"
	ProviderFlutterwave Provider = "flutterwave"
)

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderPaystack, ProviderFlutterwave:
		return true
	}
	return false
}

// Webhook event lifecycle states. The only permitted transitions are
// RECEIVED -> PROCESSING -> PROCESSED | FAILED, and FAILED -> PROCESSING
// on operator retry.
const (
	WebhookStatusReceived   = "RECEIVED"
	WebhookStatusProcessing = "PROCESSING"
	WebhookStatusProcessed  = "PROCESSED"
	WebhookStatusFailed     = "FAILED"
)

// WebhookEvent is one received provider notification. Rows are append-only:
// processing outcome mutates status/error fields but events are never deleted.
type WebhookEvent struct {
	ID           string          `json:"id" db:"id"`
	Provider     Provider        `json:"provider" db:"provider"`
	EventID      string          `json:"event_id" db:"event_id"` // provider-native event identifier
	EventType    string          `json:"event_type" db:"event_type"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	Status       string          `json:"status" db:"status"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	RetryCount   int             `json:"retry_count" db:"retry_count"`
	ReceivedAt   time.Time       `json:"received_at" db:"received_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}
