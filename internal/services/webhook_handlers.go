package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/flowpay/ledger-backend/internal/models"
)

// providerNotice is the normalized view of one provider notification that
// the handlers operate on. Amount is positive minor units.
type providerNotice struct {
	Reference     string
	Amount        int64
	Currency      string
	Status        string
	RecipientCode string
}

// WebhookProcessor owns the handler catalog: it decodes provider payloads
// into notices and applies them to the ledger. Every handler is idempotent
// at the ledger level, so a delivery that slips past the idempotency store
// still cannot double-post.
type WebhookProcessor struct {
	ledger     *LedgerService
	recipients *RecipientService
}

func NewWebhookProcessor(ledger *LedgerService, recipients *RecipientService) *WebhookProcessor {
	return &WebhookProcessor{
		ledger:     ledger,
		recipients: recipients,
	}
}

// RegisterAll binds the handler catalog to the dispatcher under each
// provider's native event names.
func (p *WebhookProcessor) RegisterAll(d *Dispatcher) {
	d.Register(models.ProviderPaystack, "charge.success", p.chargeSettled(models.ProviderPaystack))
	d.Register(models.ProviderPaystack, "charge.failed", p.chargeFailed(models.ProviderPaystack))
	d.Register(models.ProviderPaystack, "transfer.success", p.transferSettled(models.ProviderPaystack))
	d.Register(models.ProviderPaystack, "transfer.failed", p.transferFailed(models.ProviderPaystack))
	d.Register(models.ProviderPaystack, "transfer.reversed", p.transferReversed(models.ProviderPaystack))

	d.Register(models.ProviderStripe, "charge.succeeded", p.chargeSettled(models.ProviderStripe))
	d.Register(models.ProviderStripe, "charge.failed", p.chargeFailed(models.ProviderStripe))
	d.Register(models.ProviderStripe, "payout.paid", p.transferSettled(models.ProviderStripe))
	d.Register(models.ProviderStripe, "payout.failed", p.transferFailed(models.ProviderStripe))
	d.Register(models.ProviderStripe, "transfer.reversed", p.transferReversed(models.ProviderStripe))

	d.Register(models.ProviderFlutterwave, "charge.completed", p.flutterwaveCharge())
	d.Register(models.ProviderFlutterwave, "transfer.completed", p.flutterwaveTransfer())
}

// charge.success / charge.succeeded: settle the pending charge by crediting
// the account. No entry was posted while the charge was pending, so a
// failed charge never needs a balance mutation.
func (p *WebhookProcessor) chargeSettled(provider models.Provider) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
		notice, err := decodeNotice(provider, payload)
		if err != nil {
			return "", "", err
		}
		return p.settleCharge(ctx, provider, notice)
	}
}

func (p *WebhookProcessor) chargeFailed(provider models.Provider) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
		notice, err := decodeNotice(provider, payload)
		if err != nil {
			return "", "", err
		}
		return p.failCharge(ctx, provider, notice)
	}
}

// transfer.success: debit the source account and stamp the recipient.
func (p *WebhookProcessor) transferSettled(provider models.Provider) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
		notice, err := decodeNotice(provider, payload)
		if err != nil {
			return "", "", err
		}
		return p.settleTransfer(ctx, provider, notice)
	}
}

// transfer.failed: mark the transaction failed; if a success entry was
// already posted, the ledger service compensates the prior debit.
func (p *WebhookProcessor) transferFailed(provider models.Provider) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
		notice, err := decodeNotice(provider, payload)
		if err != nil {
			return "", "", err
		}
		return p.failTransfer(ctx, provider, notice)
	}
}

// transfer.reversed: the transfer's funds come back whatever the prior
// state was; the compensating credit restores the pre-transfer balance.
func (p *WebhookProcessor) transferReversed(provider models.Provider) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
		notice, err := decodeNotice(provider, payload)
		if err != nil {
			return "", "", err
		}
		return p.reverseTransfer(ctx, provider, notice)
	}
}

// Flutterwave folds success and failure into a single completed event and
// carries the verdict in data.status.
func (p *WebhookProcessor) flutterwaveCharge() HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
		notice, err := decodeNotice(models.ProviderFlutterwave, payload)
		if err != nil {
			return "", "", err
		}
		if strings.EqualFold(notice.Status, "successful") {
			return p.settleCharge(ctx, models.ProviderFlutterwave, notice)
		}
		return p.failCharge(ctx, models.ProviderFlutterwave, notice)
	}
}

func (p *WebhookProcessor) flutterwaveTransfer() HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (Outcome, string, error) {
		notice, err := decodeNotice(models.ProviderFlutterwave, payload)
		if err != nil {
			return "", "", err
		}
		switch strings.ToUpper(notice.Status) {
		case "SUCCESSFUL":
			return p.settleTransfer(ctx, models.ProviderFlutterwave, notice)
		case "REVERSED":
			return p.reverseTransfer(ctx, models.ProviderFlutterwave, notice)
		default:
			return p.failTransfer(ctx, models.ProviderFlutterwave, notice)
		}
	}
}

func (p *WebhookProcessor) settleCharge(ctx context.Context, provider models.Provider, notice *providerNotice) (Outcome, string, error) {
	txn, outcome, note, err := p.match(ctx, provider, notice)
	if txn == nil {
		return outcome, note, err
	}

	_, err = p.ledger.PostEntry(ctx, txn.ID, txn.AccountID, abs(txn.Amount), models.EntryTypeCredit)
	if errors.Is(err, ErrAlreadyPosted) {
		return OutcomeSkipped, "transaction already settled", nil
	}
	if err != nil {
		return "", "", err
	}
	return OutcomeProcessed, "", nil
}

func (p *WebhookProcessor) failCharge(ctx context.Context, provider models.Provider, notice *providerNotice) (Outcome, string, error) {
	txn, outcome, note, err := p.match(ctx, provider, notice)
	if txn == nil {
		return outcome, note, err
	}

	if err := p.ledger.MarkTransactionFailed(ctx, txn.ID); err != nil {
		if errors.Is(err, ErrAlreadyReversed) {
			return OutcomeSkipped, "transaction already reversed", nil
		}
		return "", "", err
	}
	return OutcomeProcessed, "", nil
}

func (p *WebhookProcessor) settleTransfer(ctx context.Context, provider models.Provider, notice *providerNotice) (Outcome, string, error) {
	txn, outcome, note, err := p.match(ctx, provider, notice)
	if txn == nil {
		return outcome, note, err
	}

	_, err = p.ledger.PostEntry(ctx, txn.ID, txn.AccountID, -abs(txn.Amount), models.EntryTypeDebit)
	if errors.Is(err, ErrAlreadyPosted) {
		p.touchRecipient(ctx, notice)
		return OutcomeSkipped, "transfer already settled", nil
	}
	if err != nil {
		return "", "", err
	}

	p.touchRecipient(ctx, notice)
	return OutcomeProcessed, "", nil
}

func (p *WebhookProcessor) failTransfer(ctx context.Context, provider models.Provider, notice *providerNotice) (Outcome, string, error) {
	txn, outcome, note, err := p.match(ctx, provider, notice)
	if txn == nil {
		return outcome, note, err
	}

	if err := p.ledger.MarkTransactionFailed(ctx, txn.ID); err != nil {
		if errors.Is(err, ErrAlreadyReversed) {
			return OutcomeSkipped, "transfer already reversed", nil
		}
		return "", "", err
	}

	p.touchRecipient(ctx, notice)
	return OutcomeProcessed, "", nil
}

func (p *WebhookProcessor) reverseTransfer(ctx context.Context, provider models.Provider, notice *providerNotice) (Outcome, string, error) {
	txn, outcome, note, err := p.match(ctx, provider, notice)
	if txn == nil {
		return outcome, note, err
	}

	_, err = p.ledger.ReverseEntry(ctx, txn.ID)
	if errors.Is(err, ErrAlreadyReversed) {
		return OutcomeSkipped, "transfer already reversed", nil
	}
	if err != nil {
		return "", "", err
	}

	p.touchRecipient(ctx, notice)
	return OutcomeProcessed, "", nil
}

// match resolves the notice to an internal transaction by exact external
// reference. A miss is business data, not a pipeline failure: the event is
// recorded as a skipped no-op and never retried.
func (p *WebhookProcessor) match(ctx context.Context, provider models.Provider, notice *providerNotice) (*models.Transaction, Outcome, string, error) {
	if notice.Reference == "" {
		return nil, OutcomeSkipped, "notification carries no reference", nil
	}

	txn, err := p.ledger.FindByReference(ctx, provider, notice.Reference)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, OutcomeSkipped, fmt.Sprintf("no transaction matches reference %q", notice.Reference), nil
	}
	if err != nil {
		return nil, "", "", err
	}
	return txn, "", "", nil
}

func (p *WebhookProcessor) touchRecipient(ctx context.Context, notice *providerNotice) {
	recipient, err := p.recipients.TouchLastUsed(ctx, notice.RecipientCode)
	if err != nil {
		log.Printf("[WEBHOOK] Failed to update recipient %s: %v", notice.RecipientCode, err)
		return
	}
	if recipient != nil {
		log.Printf("[WEBHOOK] Recipient %s (%s) stamped at %v", recipient.RecipientCode, recipient.Name, recipient.LastUsedAt)
	}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// decodeNotice parses the provider-shaped payload into a providerNotice.
func decodeNotice(provider models.Provider, payload json.RawMessage) (*providerNotice, error) {
	switch provider {
	case models.ProviderPaystack:
		return decodePaystack(payload)
	case models.ProviderStripe:
		return decodeStripe(payload)
	case models.ProviderFlutterwave:
		return decodeFlutterwave(payload)
	}
	return nil, fmt.Errorf("unsupported provider %q", provider)
}

func decodePaystack(payload json.RawMessage) (*providerNotice, error) {
	var body struct {
		Data struct {
			Reference string `json:"reference"`
			Amount    int64  `json:"amount"`
			Currency  string `json:"currency"`
			Status    string `json:"status"`
			Recipient struct {
				RecipientCode string `json:"recipient_code"`
			} `json:"recipient"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("malformed paystack payload: %w", err)
	}
	return &providerNotice{
		Reference:     body.Data.Reference,
		Amount:        body.Data.Amount,
		Currency:      body.Data.Currency,
		Status:        body.Data.Status,
		RecipientCode: body.Data.Recipient.RecipientCode,
	}, nil
}

func decodeStripe(payload json.RawMessage) (*providerNotice, error) {
	var body struct {
		Data struct {
			Object struct {
				ID       string            `json:"id"`
				Amount   int64             `json:"amount"`
				Currency string            `json:"currency"`
				Status   string            `json:"status"`
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("malformed stripe payload: %w", err)
	}

	// Charges created by this system carry the internal reference in
	// metadata; the object id is the fallback correlation key.
	reference := body.Data.Object.Metadata["reference"]
	if reference == "" {
		reference = body.Data.Object.ID
	}
	return &providerNotice{
		Reference: reference,
		Amount:    body.Data.Object.Amount,
		Currency:  strings.ToUpper(body.Data.Object.Currency),
		Status:    body.Data.Object.Status,
	}, nil
}

func decodeFlutterwave(payload json.RawMessage) (*providerNotice, error) {
	var body struct {
		Data struct {
			TxRef     string `json:"tx_ref"`
			Reference string `json:"reference"`
			Amount    int64  `json:"amount"`
			Currency  string `json:"currency"`
			Status    string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("malformed flutterwave payload: %w", err)
	}

	reference := body.Data.Reference
	if reference == "" {
		reference = body.Data.TxRef
	}
	return &providerNotice{
		Reference: reference,
		Amount:    body.Data.Amount,
		Currency:  body.Data.Currency,
		Status:    body.Data.Status,
	}, nil
}
