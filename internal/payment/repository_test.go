package payment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_SaveWebhookEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	rec := WebhookRecord{
		Provider:        MethodRazorpay,
		EventID:         "evt_1",
		EventType:       "payment.captured",
		GatewayOrderRef: "order_abc",
		Payload:         json.RawMessage(`{"event":"payment.captured"}`),
		SignatureValid:  true,
	}

	t.Run("FirstDelivery", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payment_webhooks .* ON CONFLICT \(provider, event_id\) DO UPDATE SET attempts = payment_webhooks.attempts \+ 1`).
			WithArgs("razorpay", "evt_1", "payment.captured", "order_abc", true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "processed"}).AddRow(5, false))

		id, processed, err := repo.SaveWebhookEvent(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, int64(5), id)
		assert.False(t, processed)
	})

	t.Run("RedeliveryOfAFinishedEvent", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payment_webhooks`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "processed"}).AddRow(5, true))

		id, processed, err := repo.SaveWebhookEvent(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, int64(5), id)
		assert.True(t, processed)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payment_webhooks`).
			WillReturnError(errors.New("database error"))

		_, _, err := repo.SaveWebhookEvent(context.Background(), rec)
		assert.ErrorContains(t, err, "save webhook razorpay/evt_1")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkWebhook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec(`UPDATE payment_webhooks SET processed_at = now\(\)`).
		WithArgs(int64(5), "order not found").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE payment_webhooks SET process_error = \$2`).
		WithArgs(int64(6), "db down").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE payment_webhooks`).
		WithArgs(int64(7), "").
		WillReturnError(errors.New("conn reset"))

	assert.NoError(t, repo.MarkWebhookProcessed(context.Background(), 5, "order not found"))
	assert.NoError(t, repo.MarkWebhookFailed(context.Background(), 6, "db down"))
	assert.Error(t, repo.MarkWebhookProcessed(context.Background(), 7, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}
