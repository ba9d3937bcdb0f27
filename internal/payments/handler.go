package payments

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/retailcore/internal/httpx"
)

type Handler struct {
	recorder *Recorder
	logger   *slog.Logger
}

func NewHandler(recorder *Recorder, logger *slog.Logger) *Handler {
	return &Handler{
		recorder: recorder,
		logger:   logger,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders/{id}/payments", h.HandleRecord)
	r.Get("/orders/{id}/payment", h.HandleGet)
}

func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid payment request")
		return
	}
	req.OrderID = chi.URLParam(r, "id")

	payment, err := h.recorder.RecordPayment(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to record payment", "order_id", req.OrderID, "method", req.Method)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, payment)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	payment, err := h.recorder.GetPayment(r.Context(), orderID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to get payment", "order_id", orderID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, payment)
}
