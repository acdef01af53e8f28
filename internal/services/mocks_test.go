package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/flowpay/ledger-backend/internal/models"
)

// MockProviderClient stands in for a provider transfer API.
type MockProviderClient struct {
	mock.Mock
}

func (m *MockProviderClient) ListTransfers(ctx context.Context, accountID string, start, end time.Time) ([]models.ProviderTransfer, error) {
	args := m.Called(ctx, accountID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ProviderTransfer), args.Error(1)
}
