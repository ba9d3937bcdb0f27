package orders

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

func TestHandler_CreateGetCancel(t *testing.T) {
	svc, _, _ := newFixture(t)
	r := chi.NewRouter()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes(r)

	rec := httptest.NewRecorder()
	body := `{"customer_id": "c1", "items": [{"product_id": "p1", "quantity": 2}]}`
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "c1", created.CustomerID)
	assert.Equal(t, domain.OrderStatusPendingPayment, created.Status)
	assert.Equal(t, "46.4", created.TotalAmount.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+created.ID+"/cancel", strings.NewReader(`{"user_id": "m1"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+created.ID+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_CreateErrors(t *testing.T) {
	svc, _, _ := newFixture(t)
	r := chi.NewRouter()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes(r)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"items": [`, http.StatusBadRequest},
		{"empty cart", `{"items": []}`, http.StatusBadRequest},
		{"unknown product", `{"items": [{"product_id": "x", "quantity": 1}]}`, http.StatusNotFound},
		{"oversell", `{"items": [{"product_id": "p1", "quantity": 11}]}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
