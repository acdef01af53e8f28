package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestRecipientService_TouchLastUsed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewRecipientService(db)
	ctx := context.Background()

	t.Run("known recipient is stamped and returned", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("UPDATE transfer_recipients").
			WithArgs(sqlmock.AnyArg(), "RCP_1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "recipient_code", "name", "bank_code", "account_number", "last_used_at", "created_at",
			}).AddRow("rcp-1", "RCP_1", "Ada Obi", "058", "0123456789", now, now))

		recipient, err := service.TouchLastUsed(ctx, "RCP_1")
		assert.NoError(t, err)
		assert.Equal(t, "Ada Obi", recipient.Name)
		assert.NotNil(t, recipient.LastUsedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown recipient is ignored", func(t *testing.T) {
		mock.ExpectQuery("UPDATE transfer_recipients").
			WithArgs(sqlmock.AnyArg(), "RCP_GHOST").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "recipient_code", "name", "bank_code", "account_number", "last_used_at", "created_at",
			}))

		recipient, err := service.TouchLastUsed(ctx, "RCP_GHOST")
		assert.NoError(t, err)
		assert.Nil(t, recipient)
	})

	t.Run("empty code is a no-op", func(t *testing.T) {
		recipient, err := service.TouchLastUsed(ctx, "")
		assert.NoError(t, err)
		assert.Nil(t, recipient)
	})
}
