package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/flowpay/ledger-backend/internal/audit"
	"github.com/flowpay/ledger-backend/internal/metrics"
	"github.com/flowpay/ledger-backend/internal/models"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrDuplicateReference  = errors.New("external reference already exists for provider")
	ErrAlreadyPosted       = errors.New("transaction already in a terminal state")
	ErrAlreadyReversed     = errors.New("transaction already reversed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAmountSignMismatch  = errors.New("entry amount sign does not match entry type")
)

// LedgerService owns Account balances and Transaction/LedgerEntry records.
// Every balance mutation happens inside a single database transaction that
// also inserts the ledger entry and flips the transaction status, so the
// cached balance on the accounts row can never drift from the entry log.
type LedgerService struct {
	db        *sql.DB
	audit     *audit.AuditLogger
	metrics   *metrics.Metrics
	validator *ValidationHelper
}

func NewLedgerService(db *sql.DB, m *metrics.Metrics) *LedgerService {
	return &LedgerService{
		db:        db,
		audit:     audit.NewAuditLogger(),
		metrics:   m,
		validator: NewValidationHelper(),
	}
}

// CreateTransactionInput is the request to open a pending transaction that
// a later provider webhook settles.
type CreateTransactionInput struct {
	AccountID         string            `json:"accountId" validate:"required"`
	Amount            int64             `json:"amount" validate:"required,gt=0"`
	Currency          string            `json:"currency" validate:"required,len=3"`
	Type              string            `json:"type" validate:"required,oneof=INCOME EXPENSE TRANSFER"`
	Provider          models.Provider   `json:"provider" validate:"required,oneof=stripe paystack flutterwave"`
	ExternalReference string            `json:"externalReference"`
	Metadata          map[string]string `json:"metadata"`
}

// CreateTransaction validates the input and inserts a PENDING transaction.
// An external reference is generated when the caller does not supply one;
// (provider, external_reference) is unique.
func (s *LedgerService) CreateTransaction(ctx context.Context, input CreateTransactionInput) (*models.Transaction, error) {
	if err := s.validator.ValidateStruct(&input); err != nil {
		return nil, err
	}

	if input.ExternalReference == "" {
		input.ExternalReference = "TXN_" + uuid.NewString()
	}

	now := time.Now()
	txn := &models.Transaction{
		ID:                uuid.NewString(),
		ExternalReference: input.ExternalReference,
		AccountID:         input.AccountID,
		Amount:            input.Amount,
		Currency:          input.Currency,
		Type:              input.Type,
		Status:            models.TransactionStatusPending,
		Provider:          input.Provider,
		Metadata:          input.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	metadata, err := json.Marshal(txn.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, external_reference, account_id, amount, currency, type, status, provider, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		txn.ID, txn.ExternalReference, txn.AccountID, txn.Amount, txn.Currency,
		txn.Type, txn.Status, string(txn.Provider), metadata, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return txn, nil
}

// FindByReference resolves a provider notification to an internal
// transaction by exact external reference.
func (s *LedgerService) FindByReference(ctx context.Context, provider models.Provider, reference string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_reference, account_id, amount, currency, type, status, provider, created_at, updated_at
		FROM transactions
		WHERE provider = $1 AND external_reference = $2`,
		string(provider), reference)

	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return txn, err
}

// PostEntry atomically inserts a ledger entry, mutates the account balance
// and completes the transaction. The transaction row is locked first: a
// concurrent or repeated delivery finds it already terminal and gets
// ErrAlreadyPosted instead of a second posting.
func (s *LedgerService) PostEntry(ctx context.Context, transactionID, accountID string, amount int64, entryType string) (*models.LedgerEntry, error) {
	if err := checkEntrySign(amount, entryType); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := s.lockTransaction(tx, transactionID)
	if err != nil {
		return nil, err
	}
	if models.TerminalStatus(status) {
		return nil, ErrAlreadyPosted
	}

	entry, err := s.postEntryTx(tx, transactionID, accountID, amount, entryType)
	if err != nil {
		s.audit.LogError(transactionID, accountID, err)
		return nil, err
	}

	if err := s.updateTransactionStatus(tx, transactionID, models.TransactionStatusCompleted); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entry: %w", err)
	}

	s.audit.LogEntry(transactionID, accountID, amount, entryType)
	s.metrics.EntryPosted()
	return entry, nil
}

// ReverseEntry posts a compensating entry that restores the account to its
// balance before the transaction's postings, and marks the transaction
// REVERSED. The original entries are never touched. Reversing a
// transaction with no postings only flips the status.
func (s *LedgerService) ReverseEntry(ctx context.Context, transactionID string) (*models.LedgerEntry, error) {
	return s.compensate(ctx, transactionID, models.TransactionStatusReversed)
}

// MarkTransactionFailed records a provider failure notification. If a
// success entry was already posted (a contradictory double notification),
// the prior posting is compensated before the status flips to FAILED.
// Marking an already-failed transaction is a no-op.
func (s *LedgerService) MarkTransactionFailed(ctx context.Context, transactionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := s.lockTransaction(tx, transactionID)
	if err != nil {
		return err
	}

	switch status {
	case models.TransactionStatusFailed:
		return nil
	case models.TransactionStatusReversed:
		return ErrAlreadyReversed
	case models.TransactionStatusCompleted:
		if _, err := s.compensateTx(tx, transactionID); err != nil {
			return err
		}
	}

	if err := s.updateTransactionStatus(tx, transactionID, models.TransactionStatusFailed); err != nil {
		return err
	}

	return tx.Commit()
}

// GetAccountBalance returns the cached account balance, which by
// construction equals the sum of the account's ledger entries.
func (s *LedgerService) GetAccountBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return balance, nil
}

// ListEntries returns an account's postings newest-first.
func (s *LedgerService) ListEntries(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, amount, entry_type, balance, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Amount, &e.EntryType, &e.Balance, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListBalances returns all account balances for the operator surface.
func (s *LedgerService) ListBalances(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, currency, balance, version, updated_at
		FROM accounts
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Currency, &a.Balance, &a.Version, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListTransactions returns an account's transactions inside [start, end).
func (s *LedgerService) ListTransactions(ctx context.Context, accountID string, start, end time.Time) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_reference, account_id, amount, currency, type, status, provider, created_at, updated_at
		FROM transactions
		WHERE account_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`, accountID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := []models.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

func (s *LedgerService) compensate(ctx context.Context, transactionID, finalStatus string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := s.lockTransaction(tx, transactionID)
	if err != nil {
		return nil, err
	}
	if status == models.TransactionStatusReversed {
		return nil, ErrAlreadyReversed
	}

	entry, err := s.compensateTx(tx, transactionID)
	if err != nil {
		return nil, err
	}

	if err := s.updateTransactionStatus(tx, transactionID, finalStatus); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reversal: %w", err)
	}

	if entry != nil {
		s.audit.LogReversal(transactionID, entry.AccountID, entry.Amount)
		s.metrics.EntryReversed()
	}
	return entry, nil
}

// compensateTx posts the entry that cancels the net effect of all prior
// postings for the transaction. Returns nil when there is nothing to undo.
func (s *LedgerService) compensateTx(tx *sql.Tx, transactionID string) (*models.LedgerEntry, error) {
	var net int64
	var accountID sql.NullString
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0), MIN(account_id)
		FROM ledger_entries
		WHERE transaction_id = $1`, transactionID).Scan(&net, &accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum entries: %w", err)
	}

	if net == 0 || !accountID.Valid {
		return nil, nil
	}

	entryType := models.EntryTypeCredit
	if -net < 0 {
		entryType = models.EntryTypeDebit
	}

	return s.postEntryTx(tx, transactionID, accountID.String, -net, entryType)
}

// postEntryTx locks the account row, checks the resulting balance, inserts
// the entry with a balance snapshot and updates the cached balance under
// optimistic version control, all on the caller's open database
// transaction.
func (s *LedgerService) postEntryTx(tx *sql.Tx, transactionID, accountID string, amount int64, entryType string) (*models.LedgerEntry, error) {
	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	newBalance := account.Balance + amount
	if newBalance < 0 {
		return nil, ErrInsufficientBalance
	}

	entry := &models.LedgerEntry{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		AccountID:     account.ID,
		Amount:        amount,
		EntryType:     entryType,
		Balance:       newBalance,
		CreatedAt:     time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO ledger_entries (id, transaction_id, account_id, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.TransactionID, entry.AccountID, entry.Amount,
		entry.EntryType, entry.Balance, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := s.updateAccountBalance(tx, account.ID, newBalance, account.Version); err != nil {
		return nil, err
	}

	return entry, nil
}

func (s *LedgerService) lockTransaction(tx *sql.Tx, transactionID string) (string, error) {
	var status string
	err := tx.QueryRow(`
		SELECT status FROM transactions
		WHERE id = $1
		FOR UPDATE`, transactionID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrTransactionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock transaction: %w", err)
	}
	return status, nil
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, balance, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return &account, nil
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}
	return nil
}

func (s *LedgerService) updateTransactionStatus(tx *sql.Tx, transactionID, status string) error {
	_, err := tx.Exec(`
		UPDATE transactions
		SET status = $1, updated_at = $2
		WHERE id = $3`,
		status, time.Now(), transactionID)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

func checkEntrySign(amount int64, entryType string) error {
	switch entryType {
	case models.EntryTypeDebit:
		if amount >= 0 {
			return ErrAmountSignMismatch
		}
	case models.EntryTypeCredit:
		if amount <= 0 {
			return ErrAmountSignMismatch
		}
	default:
		return fmt.Errorf("unknown entry type %q", entryType)
	}
	return nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var txn models.Transaction
	var provider string
	err := row.Scan(&txn.ID, &txn.ExternalReference, &txn.AccountID, &txn.Amount,
		&txn.Currency, &txn.Type, &txn.Status, &provider, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	txn.Provider = models.Provider(provider)
	return &txn, nil
}
