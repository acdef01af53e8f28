package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/flowpay/ledger-backend/internal/config"
	"github.com/flowpay/ledger-backend/internal/metrics"
	"github.com/flowpay/ledger-backend/internal/models"
)

// ErrReportNotFound is returned when no reconciliation report matches.
var ErrReportNotFound = errors.New("reconciliation report not found")

// ProviderClient fetches the provider's authoritative transfer records for
// an account window. Implementations talk to the provider's HTTP API; the
// engine never holds a database lock across this call.
type ProviderClient interface {
	ListTransfers(ctx context.Context, accountID string, start, end time.Time) ([]models.ProviderTransfer, error)
}

// ReconciliationService compares ledger transactions against provider
// truth for a window and produces an immutable report. Discrepancies are
// surfaced, never auto-corrected.
type ReconciliationService struct {
	db       *sql.DB
	ledger   *LedgerService
	provider ProviderClient
	cfg      *config.ReconcileConfig
	metrics  *metrics.Metrics
}

func NewReconciliationService(db *sql.DB, ledger *LedgerService, provider ProviderClient, cfg *config.ReconcileConfig, m *metrics.Metrics) *ReconciliationService {
	return &ReconciliationService{
		db:       db,
		ledger:   ledger,
		provider: provider,
		cfg:      cfg,
		metrics:  m,
	}
}

// Reconcile runs the comparison for [start, end). A PENDING report row is
// created up front; it completes or fails in a single guarded update, and
// a cancelled run deletes the pending row so readers never observe a
// partial report.
func (s *ReconciliationService) Reconcile(ctx context.Context, accountID string, start, end time.Time) (*models.ReconciliationReport, error) {
	report := &models.ReconciliationReport{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		WindowStart: start,
		WindowEnd:   end,
		Status:      models.ReportStatusPending,
		CreatedAt:   time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (id, account_id, window_start, window_end, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		report.ID, report.AccountID, report.WindowStart, report.WindowEnd,
		report.Status, report.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciliation report: %w", err)
	}

	ledgerTxns, err := s.ledger.ListTransactions(ctx, accountID, start, end)
	if err != nil {
		s.discard(report.ID)
		return nil, err
	}

	// Provider fetch happens before any comparison and with no locks
	// held, so a slow provider cannot block the webhook path.
	providerTransfers, err := s.fetchProviderTransfers(ctx, accountID, start, end)
	if err != nil {
		if ctx.Err() != nil {
			s.discard(report.ID)
			return nil, ctx.Err()
		}
		s.metrics.ReconciliationRun("failed", 0)
		return s.fail(report, err)
	}

	if ctx.Err() != nil {
		s.discard(report.ID)
		return nil, ctx.Err()
	}

	s.compare(report, ledgerTxns, providerTransfers)
	s.metrics.ReconciliationRun("completed", report.MatchedCount)
	return s.complete(report)
}

// GetReport fetches one report by id.
func (s *ReconciliationService) GetReport(ctx context.Context, id string) (*models.ReconciliationReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, window_start, window_end, total_transactions,
		       matched_count, unmatched_count, discrepancy_count, balance_difference,
		       status, COALESCE(error_message, ''), created_at, completed_at
		FROM reconciliation_reports
		WHERE id = $1`, id)

	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, ErrReportNotFound
	}
	return report, err
}

// ListReports returns reports newest-first, optionally filtered by account.
func (s *ReconciliationService) ListReports(ctx context.Context, accountID string, limit int) ([]models.ReconciliationReport, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, window_start, window_end, total_transactions,
		       matched_count, unmatched_count, discrepancy_count, balance_difference,
		       status, COALESCE(error_message, ''), created_at, completed_at
		FROM reconciliation_reports
		WHERE ($1 = '' OR account_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []models.ReconciliationReport{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

// fetchProviderTransfers retries the provider query a bounded number of
// times with backoff before giving up.
func (s *ReconciliationService) fetchProviderTransfers(ctx context.Context, accountID string, start, end time.Time) ([]models.ProviderTransfer, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		transfers, err := s.provider.ListTransfers(ctx, accountID, start, end)
		if err == nil {
			return transfers, nil
		}
		lastErr = err
		log.Printf("[RECONCILE] Provider query attempt %d/%d failed: %v", attempt, s.cfg.MaxAttempts, err)

		if attempt == s.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.Backoff * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("provider query failed after %d attempts: %w", s.cfg.MaxAttempts, lastErr)
}

// compare matches ledger transactions to provider transfers by exact
// external reference. A matched pair with differing amount or status is a
// discrepancy; a record present on only one side is unmatched. The balance
// difference is the ledger-derived net minus the provider-reported net for
// the window.
func (s *ReconciliationService) compare(report *models.ReconciliationReport, ledgerTxns []models.Transaction, providerTransfers []models.ProviderTransfer) {
	report.TotalTransactions = len(ledgerTxns)

	byReference := make(map[string]models.ProviderTransfer, len(providerTransfers))
	for _, transfer := range providerTransfers {
		byReference[transfer.Reference] = transfer
	}

	var ledgerNet, providerNet int64
	matchedProvider := make(map[string]bool)

	for _, txn := range ledgerTxns {
		if settledStatus(txn.Status) {
			ledgerNet += txn.Amount
		}

		transfer, ok := byReference[txn.ExternalReference]
		if !ok {
			report.UnmatchedCount++
			continue
		}
		matchedProvider[transfer.Reference] = true

		if transfer.Amount != txn.Amount || !statusesAgree(txn.Status, transfer.Status) {
			report.DiscrepancyCount++
			continue
		}
		report.MatchedCount++
	}

	for _, transfer := range providerTransfers {
		if settledProviderStatus(transfer.Status) {
			providerNet += transfer.Amount
		}
		if !matchedProvider[transfer.Reference] {
			report.UnmatchedCount++
		}
	}

	report.BalanceDifference = ledgerNet - providerNet
}

func (s *ReconciliationService) complete(report *models.ReconciliationReport) (*models.ReconciliationReport, error) {
	now := time.Now()
	report.Status = models.ReportStatusCompleted
	report.CompletedAt = &now

	_, err := s.db.Exec(`
		UPDATE reconciliation_reports
		SET total_transactions = $1, matched_count = $2, unmatched_count = $3,
		    discrepancy_count = $4, balance_difference = $5, status = $6, completed_at = $7
		WHERE id = $8 AND status = $9`,
		report.TotalTransactions, report.MatchedCount, report.UnmatchedCount,
		report.DiscrepancyCount, report.BalanceDifference, report.Status, now,
		report.ID, models.ReportStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to complete report: %w", err)
	}
	return report, nil
}

func (s *ReconciliationService) fail(report *models.ReconciliationReport, cause error) (*models.ReconciliationReport, error) {
	now := time.Now()
	report.Status = models.ReportStatusFailed
	report.ErrorMessage = cause.Error()
	report.CompletedAt = &now

	_, err := s.db.Exec(`
		UPDATE reconciliation_reports
		SET status = $1, error_message = $2, completed_at = $3
		WHERE id = $4 AND status = $5`,
		report.Status, report.ErrorMessage, now, report.ID, models.ReportStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to mark report failed: %w", err)
	}
	return report, nil
}

// discard removes a pending report after cancellation so no partial state
// stays visible. Uses a fresh context: the caller's is already dead.
func (s *ReconciliationService) discard(reportID string) {
	_, err := s.db.Exec(`
		DELETE FROM reconciliation_reports
		WHERE id = $1 AND status = $2`,
		reportID, models.ReportStatusPending)
	if err != nil {
		log.Printf("[RECONCILE] Failed to discard pending report %s: %v", reportID, err)
	}
}

func settledStatus(status string) bool {
	return status == models.TransactionStatusCompleted
}

func settledProviderStatus(status string) bool {
	switch status {
	case "success", "successful", "SUCCESSFUL", "succeeded", "paid":
		return true
	}
	return false
}

// statusesAgree maps provider status vocabulary onto the internal one.
func statusesAgree(internal, provider string) bool {
	switch internal {
	case models.TransactionStatusCompleted:
		return settledProviderStatus(provider)
	case models.TransactionStatusFailed:
		return provider == "failed" || provider == "FAILED"
	case models.TransactionStatusReversed:
		return provider == "reversed" || provider == "REVERSED"
	case models.TransactionStatusPending:
		return provider == "pending" || provider == "PENDING" || provider == "otp"
	}
	return false
}

func scanReport(row rowScanner) (*models.ReconciliationReport, error) {
	var report models.ReconciliationReport
	var completedAt sql.NullTime

	err := row.Scan(&report.ID, &report.AccountID, &report.WindowStart, &report.WindowEnd,
		&report.TotalTransactions, &report.MatchedCount, &report.UnmatchedCount,
		&report.DiscrepancyCount, &report.BalanceDifference, &report.Status,
		&report.ErrorMessage, &report.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		report.CompletedAt = &completedAt.Time
	}
	return &report, nil
}
