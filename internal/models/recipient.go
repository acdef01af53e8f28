package models

import "time"

// TransferRecipient is a saved payout destination. Terminal transfer events
// (success, failure, reversal) touch LastUsedAt.
type TransferRecipient struct {
	ID            string     `json:"id" db:"id"`
	RecipientCode string     `json:"recipient_code" db:"recipient_code"`
	Name          string     `json:"name" db:"name"`
	BankCode      string     `json:"bank_code" db:"bank_code"`
	AccountNumber string     `json:"account_number" db:"account_number"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
