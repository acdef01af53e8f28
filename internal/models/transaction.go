package models

import (
	"time"
)

// Transaction statuses. PENDING is the only non-terminal state; COMPLETED may
// still move to REVERSED on a transfer.reversed notification, and to FAILED
// when a provider contradicts an earlier success.
const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
	TransactionStatusReversed  = "REVERSED"
)

// Transaction types.
const (
	TransactionTypeIncome   = "INCOME"
	TransactionTypeExpense  = "EXPENSE"
	TransactionTypeTransfer = "TRANSFER"
)

// Transaction represents a logical financial event (a charge, a transfer,
// a reversal). Amounts are signed integer minor units (kobo/cents);
// monetary values never touch floating point.
type Transaction struct {
	ID                string            `json:"id" db:"id"`
	ExternalReference string            `json:"external_reference" db:"external_reference"`
	AccountID         string            `json:"account_id" db:"account_id"`
	Amount            int64             `json:"amount" db:"amount"`
	Currency          string            `json:"currency" db:"currency"`
	Type              string            `json:"type" db:"type"`
	Status            string            `json:"status" db:"status"`
	Provider          Provider          `json:"provider" db:"provider"`
	Metadata          map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// TerminalStatus reports whether s is a terminal transaction status.
func TerminalStatus(s string) bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed || s == TransactionStatusReversed
}
