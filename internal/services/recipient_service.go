package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/flowpay/ledger-backend/internal/models"
)

// RecipientService maintains saved payout destinations. The webhook
// pipeline only touches last_used_at when a transfer reaches a terminal
// state; recipient onboarding happens elsewhere.
type RecipientService struct {
	db *sql.DB
}

func NewRecipientService(db *sql.DB) *RecipientService {
	return &RecipientService{db: db}
}

// TouchLastUsed stamps the recipient's last_used_at and returns the
// updated recipient. An empty or unknown recipient code returns nil; it is
// provider data we never saved, not a pipeline failure.
func (s *RecipientService) TouchLastUsed(ctx context.Context, recipientCode string) (*models.TransferRecipient, error) {
	if recipientCode == "" {
		return nil, nil
	}

	var recipient models.TransferRecipient
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE transfer_recipients
		SET last_used_at = $1
		WHERE recipient_code = $2
		RETURNING id, recipient_code, name, bank_code, account_number, last_used_at, created_at`,
		time.Now(), recipientCode).Scan(&recipient.ID, &recipient.RecipientCode,
		&recipient.Name, &recipient.BankCode, &recipient.AccountNumber,
		&lastUsed, &recipient.CreatedAt)
	if err == sql.ErrNoRows {
		log.Printf("[WEBHOOK] Transfer recipient %s not found, skipping last_used_at update", recipientCode)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to touch recipient: %w", err)
	}

	if lastUsed.Valid {
		recipient.LastUsedAt = &lastUsed.Time
	}
	return &recipient, nil
}
