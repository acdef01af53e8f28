package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowpay/ledger-backend/internal/config"
	"github.com/flowpay/ledger-backend/internal/metrics"
	"github.com/flowpay/ledger-backend/internal/models"
	"github.com/flowpay/ledger-backend/internal/services"
	"github.com/flowpay/ledger-backend/internal/signature"
)

// WebhookHandler is the HTTP boundary of the ingestion pipeline:
// signature check, dedup, durable event capture, dispatch.
type WebhookHandler struct {
	cfg         *config.WebhookConfig
	verifier    *signature.Verifier
	idempotency *services.IdempotencyStore
	events      *services.WebhookEventService
	pipeline    *services.WebhookPipeline
	metrics     *metrics.Metrics
}

func NewWebhookHandler(cfg *config.WebhookConfig, verifier *signature.Verifier, idempotency *services.IdempotencyStore, events *services.WebhookEventService, pipeline *services.WebhookPipeline, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{
		cfg:         cfg,
		verifier:    verifier,
		idempotency: idempotency,
		events:      events,
		pipeline:    pipeline,
		metrics:     m,
	}
}

// Receive handles POST /webhooks/{provider}.
// @Summary Receive a provider webhook
// @Description Verify, deduplicate, persist and dispatch one provider notification
// @Tags webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider" Enums(stripe, paystack, flutterwave)
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /webhooks/{provider} [post]
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := models.Provider(chi.URLParam(r, "provider"))
	if !provider.Valid() {
		http.Error(w, "Unknown provider", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	// Hard precondition: nothing unauthenticated is ever persisted.
	header := r.Header.Get(signature.Header(provider))
	if err := h.verifier.Verify(provider, body, header); err != nil {
		h.metrics.WebhookRejected(string(provider))
		log.Printf("[WEBHOOK] Rejected %s delivery from %s: %v", provider, r.RemoteAddr, err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	eventID, eventType, err := extractEnvelope(provider, body)
	if err != nil {
		log.Printf("[WEBHOOK] Malformed %s payload from %s: %v", provider, r.RemoteAddr, err)
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}

	// Durable capture comes before the dedup mark: a failed insert leaves
	// no mark behind, so the provider's retry is not swallowed as a
	// duplicate of an event that was never stored.
	event, err := h.events.Record(r.Context(), provider, eventID, eventType, json.RawMessage(body))
	if err != nil {
		log.Printf("[WEBHOOK] Failed to persist %s event %s: %v", provider, eventID, err)
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		return
	}

	fresh, err := h.idempotency.MarkIfNew(r.Context(), provider, eventID)
	if err != nil {
		log.Printf("[WEBHOOK] Idempotency check failed for %s/%s: %v", provider, eventID, err)
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		return
	}
	if !fresh {
		h.metrics.WebhookDuplicate(string(provider))
		log.Printf("[WEBHOOK] Duplicate %s event %s, skipping", provider, eventID)
		writeReceived(w, "already processed")
		return
	}

	h.metrics.WebhookReceived(string(provider))

	if err := h.pipeline.Process(r.Context(), event); err != nil {
		// Detail stays on the durable event row, never in the response.
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		return
	}

	writeReceived(w, "")
}

// ListEvents handles GET /webhooks/events.
// @Summary List stored webhook events
// @Tags webhooks
// @Produce json
// @Param provider query string false "Filter by provider"
// @Param status query string false "Filter by processing status"
// @Success 200 {object} map[string]any
// @Router /webhooks/events [get]
func (h *WebhookHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	status := r.URL.Query().Get("status")

	events, err := h.events.List(r.Context(), provider, status, 50)
	if err != nil {
		log.Printf("[WEBHOOK] Failed to list events: %v", err)
		http.Error(w, "Failed to list events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// RetryEvent handles POST /webhooks/events/{eventId}/retry: a manual
// operator re-dispatch of a failed event.
// @Summary Retry a failed webhook event
// @Tags webhooks
// @Produce json
// @Param eventId path string true "Stored event id"
// @Success 200 {object} models.WebhookEvent
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /webhooks/events/{eventId}/retry [post]
func (h *WebhookHandler) RetryEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	event, err := h.events.Get(r.Context(), eventID)
	if err != nil {
		if err == services.ErrEventNotFound {
			http.Error(w, "Event not found", http.StatusNotFound)
		} else {
			http.Error(w, "Failed to fetch event", http.StatusInternalServerError)
		}
		return
	}

	if err := h.pipeline.Process(r.Context(), event); err != nil {
		http.Error(w, "Retry failed", http.StatusConflict)
		return
	}

	updated, err := h.events.Get(r.Context(), eventID)
	if err != nil {
		http.Error(w, "Failed to fetch event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

func writeReceived(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := map[string]any{"received": true}
	if message != "" {
		resp["message"] = message
	}
	json.NewEncoder(w).Encode(resp)
}

// extractEnvelope pulls the provider-native event id and type out of the
// raw payload without committing to a full schema.
func extractEnvelope(provider models.Provider, body []byte) (eventID, eventType string, err error) {
	switch provider {
	case models.ProviderStripe:
		var envelope struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", "", err
		}
		if envelope.ID == "" || envelope.Type == "" {
			return "", "", fmt.Errorf("missing event id or type")
		}
		return envelope.ID, envelope.Type, nil

	case models.ProviderPaystack, models.ProviderFlutterwave:
		var envelope struct {
			Event string `json:"event"`
			Data  struct {
				ID json.Number `json:"id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", "", err
		}
		if envelope.Event == "" || envelope.Data.ID.String() == "" {
			return "", "", fmt.Errorf("missing event id or type")
		}
		// Neither provider sends a per-delivery event id; the object id
		// alone is shared across the object's lifecycle (transfer.success
		// and transfer.reversed carry the same transfer id), so the event
		// name is part of the identity.
		return envelope.Data.ID.String() + ":" + envelope.Event, envelope.Event, nil
	}
	return "", "", fmt.Errorf("unsupported provider %q", provider)
}
