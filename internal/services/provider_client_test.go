package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPProviderClient_ListTransfers(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	t.Run("decodes the list envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transfer", r.URL.Path)
			assert.Equal(t, "acc_1", r.URL.Query().Get("account"))
			assert.Equal(t, "2026-08-01", r.URL.Query().Get("from"))
			assert.Equal(t, "2026-09-01", r.URL.Query().Get("to"))
			assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":true,"data":[
				{"reference":"TRF_1","amount":5000,"currency":"NGN","status":"success"},
				{"reference":"TRF_2","amount":1000,"currency":"NGN","status":"failed"}
			]}`))
		}))
		defer server.Close()

		client := NewHTTPProviderClient(server.URL, "sk_test")
		transfers, err := client.ListTransfers(context.Background(), "acc_1", start, end)
		assert.NoError(t, err)
		assert.Len(t, transfers, 2)
		assert.Equal(t, "TRF_1", transfers[0].Reference)
		assert.Equal(t, int64(5000), transfers[0].Amount)
		assert.Equal(t, "failed", transfers[1].Status)
	})

	t.Run("non-200 status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewHTTPProviderClient(server.URL, "sk_test")
		_, err := client.ListTransfers(context.Background(), "acc_1", start, end)
		assert.ErrorContains(t, err, "503")
	})

	t.Run("context cancellation aborts the request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		client := NewHTTPProviderClient(server.URL, "sk_test")
		_, err := client.ListTransfers(ctx, "acc_1", start, end)
		assert.Error(t, err)
	})
}
