package alerts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

func payload(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(domain.LowStockEvent{
		ProductID:         "PROD-001",
		StockQuantity:     2,
		LowStockThreshold: 3,
		MovementID:        "01J00000000000000000000000",
		OccurredAt:        time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return data
}

func TestLowStockHandler_PostsNotification(t *testing.T) {
	var got notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := NewLowStockHandler(srv.URL, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, h.Handle(context.Background(), []byte("PROD-001"), payload(t)))

	assert.Equal(t, "PROD-001", got.ProductID)
	assert.Equal(t, 2, got.StockQuantity)
	assert.Equal(t, 3, got.Threshold)
	assert.Equal(t, "2026-04-01T12:00:00Z", got.OccurredAt)
	assert.Contains(t, got.Text, "2 left (threshold 3)")
}

func TestLowStockHandler_FailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewLowStockHandler(srv.URL, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := h.Handle(context.Background(), nil, payload(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLowStockHandler_DropsMalformedEvent(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	h := NewLowStockHandler(srv.URL, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, h.Handle(context.Background(), nil, []byte("{not json")))
	assert.False(t, called)
}
