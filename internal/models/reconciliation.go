package models

import (
	"time"
)

// Reconciliation report statuses.
const (
	ReportStatusPending   = "PENDING"
	ReportStatusCompleted = "COMPLETED"
	ReportStatusFailed    = "FAILED"
)

// ReconciliationReport is the outcome of comparing ledger transactions
// against provider-reported transfers for an account over a window.
// Reports are immutable once completed; re-running produces a new report.
type ReconciliationReport struct {
	ID                string     `json:"id" db:"id"`
	AccountID         string     `json:"account_id" db:"account_id"`
	WindowStart       time.Time  `json:"window_start" db:"window_start"`
	WindowEnd         time.Time  `json:"window_end" db:"window_end"`
	TotalTransactions int        `json:"total_transactions" db:"total_transactions"`
	MatchedCount      int        `json:"matched_count" db:"matched_count"`
	UnmatchedCount    int        `json:"unmatched_count" db:"unmatched_count"`
	DiscrepancyCount  int        `json:"discrepancy_count" db:"discrepancy_count"`
	BalanceDifference int64      `json:"balance_difference" db:"balance_difference"`
	Status            string     `json:"status" db:"status"`
	ErrorMessage      string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ProviderTransfer is a provider-reported transfer record fetched during
// reconciliation. Amount is signed minor units.
type ProviderTransfer struct {
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
