package models

import (
	"time"
)

// Ledger entry types.
const (
	EntryTypeDebit  = "DEBIT"
	EntryTypeCredit = "CREDIT"
)

// LedgerEntry is an immutable posting against an account. Amount is signed
// minor units; Balance is the account balance snapshot after the posting.
type LedgerEntry struct {
	ID            string    `json:"id" db:"id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Amount        int64     `json:"amount" db:"amount"`
	EntryType     string    `json:"entry_type" db:"entry_type"`
	Balance       int64     `json:"balance" db:"balance"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Account is a balance-holding entity. Balance is only ever mutated inside
// the same database transaction that inserts a ledger entry; Version guards
// against lost updates (optimistic locking).
type Account struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Currency  string    `json:"currency" db:"currency"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int       `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
