package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/flowpay/ledger-backend/internal/models"
)

// HTTPProviderClient queries a provider's transfer-listing API for
// reconciliation. It satisfies ProviderClient; tests substitute a mock.
type HTTPProviderClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewHTTPProviderClient(baseURL, secretKey string) *HTTPProviderClient {
	return &HTTPProviderClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ListTransfers fetches the provider's transfer records for the account
// window. The response shape follows the Paystack-style list envelope.
func (c *HTTPProviderClient) ListTransfers(ctx context.Context, accountID string, start, end time.Time) ([]models.ProviderTransfer, error) {
	query := url.Values{}
	query.Set("account", accountID)
	query.Set("from", start.Format("2006-01-02"))
	query.Set("to", end.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transfer?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider transfer query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider transfer query returned status %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			Reference string    `json:"reference"`
			Amount    int64     `json:"amount"`
			Currency  string    `json:"currency"`
			Status    string    `json:"status"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	transfers := make([]models.ProviderTransfer, 0, len(body.Data))
	for _, record := range body.Data {
		transfers = append(transfers, models.ProviderTransfer{
			Reference: record.Reference,
			Amount:    record.Amount,
			Currency:  record.Currency,
			Status:    record.Status,
			CreatedAt: record.CreatedAt,
		})
	}
	return transfers, nil
}
