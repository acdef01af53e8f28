package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/flowpay/ledger-backend/internal/config"
	"github.com/flowpay/ledger-backend/internal/services"
)

// LedgerHandler exposes read-only ledger projections and the reconcile
// trigger to the operator surface (consumed by the UI layer, which is
// outside this core).
type LedgerHandler struct {
	ledger     *services.LedgerService
	reconciler *services.ReconciliationService
	reconcile  *config.ReconcileConfig
	validator  *services.ValidationHelper
}

func NewLedgerHandler(ledger *services.LedgerService, reconciler *services.ReconciliationService, reconcileCfg *config.ReconcileConfig) *LedgerHandler {
	return &LedgerHandler{
		ledger:     ledger,
		reconciler: reconciler,
		reconcile:  reconcileCfg,
		validator:  services.NewValidationHelper(),
	}
}

// CreateTransaction handles POST /ledger/transactions.
// @Summary Create a pending transaction
// @Description Open a pending transaction that a later provider webhook settles
// @Tags ledger
// @Accept json
// @Produce json
// @Success 201 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /ledger/transactions [post]
func (h *LedgerHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var input services.CreateTransactionInput

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&input); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	txn, err := h.ledger.CreateTransaction(r.Context(), input)
	if err != nil {
		if errors.Is(err, services.ErrDuplicateReference) {
			services.SendErrorResponse(w, "External reference already exists", http.StatusConflict, nil)
			return
		}
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(txn)
}

// ListEntries handles GET /ledger/entries.
// @Summary List ledger entries for an account
// @Tags ledger
// @Produce json
// @Param accountId query string true "Account ID"
// @Success 200 {object} map[string]any
// @Router /ledger/entries [get]
func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		services.SendErrorResponse(w, "accountId is required", http.StatusBadRequest, nil)
		return
	}

	entries, err := h.ledger.ListEntries(r.Context(), accountID, 50)
	if err != nil {
		log.Printf("[LEDGER] Failed to list entries for %s: %v", accountID, err)
		services.SendErrorResponse(w, "Failed to list entries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// ListBalances handles GET /ledger/balances.
// @Summary List account balances
// @Tags ledger
// @Produce json
// @Param accountId query string false "Single account ID"
// @Success 200 {object} map[string]any
// @Router /ledger/balances [get]
func (h *LedgerHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	if accountID := r.URL.Query().Get("accountId"); accountID != "" {
		balance, err := h.ledger.GetAccountBalance(r.Context(), accountID)
		if err != nil {
			if errors.Is(err, services.ErrAccountNotFound) {
				services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			} else {
				services.SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"accountId": accountID,
			"balance":   balance,
		})
		return
	}

	accounts, err := h.ledger.ListBalances(r.Context())
	if err != nil {
		log.Printf("[LEDGER] Failed to list balances: %v", err)
		services.SendErrorResponse(w, "Failed to list balances", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// ListReports handles GET /ledger/reconciliation-reports.
// @Summary List reconciliation reports
// @Tags ledger
// @Produce json
// @Param accountId query string false "Filter by account"
// @Success 200 {object} map[string]any
// @Router /ledger/reconciliation-reports [get]
func (h *LedgerHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")

	reports, err := h.reconciler.ListReports(r.Context(), accountID, 50)
	if err != nil {
		log.Printf("[RECONCILE] Failed to list reports: %v", err)
		services.SendErrorResponse(w, "Failed to list reports", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

// ReconcileRequest triggers a reconciliation run over a window.
type ReconcileRequest struct {
	AccountID string `json:"accountId" validate:"required"`
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
}

// Reconcile handles POST /ledger/reconcile. The run is synchronous and
// bounded by the configured timeout; the created report is returned either
// completed or failed.
// @Summary Reconcile an account against provider records
// @Tags ledger
// @Accept json
// @Produce json
// @Success 200 {object} models.ReconciliationReport
// @Failure 400 {object} services.ErrorResponse
// @Router /ledger/reconcile [post]
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	start, _ := time.Parse("2006-01-02", req.StartDate)
	end, _ := time.Parse("2006-01-02", req.EndDate)
	if !end.After(start) {
		services.SendErrorResponse(w, "endDate must be after startDate", http.StatusBadRequest, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.reconcile.Timeout)
	defer cancel()

	report, err := h.reconciler.Reconcile(ctx, req.AccountID, start, end)
	if err != nil {
		log.Printf("[RECONCILE] Run failed for account %s: %v", req.AccountID, err)
		services.SendErrorResponse(w, "Reconciliation failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
