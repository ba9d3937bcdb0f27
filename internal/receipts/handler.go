package receipts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/retailcore/internal/httpx"
)

type Handler struct {
	issuer *Issuer
	logger *slog.Logger
}

func NewHandler(issuer *Issuer, logger *slog.Logger) *Handler {
	return &Handler{
		issuer: issuer,
		logger: logger,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders/{id}/receipt", h.HandleIssue)
	r.Post("/orders/{id}/receipt/reprint", h.HandleReprint)
	r.Get("/orders/{id}/receipt", h.HandleGet)
}

type printRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req printRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid receipt request")
		return
	}

	receipt, err := h.issuer.IssueReceipt(r.Context(), orderID, req.UserID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to issue receipt", "order_id", orderID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, receipt)
}

func (h *Handler) HandleReprint(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req printRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid reprint request")
		return
	}

	receipt, err := h.issuer.Reprint(r.Context(), orderID, req.UserID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to reprint receipt", "order_id", orderID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, receipt)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	receipt, err := h.issuer.GetReceipt(r.Context(), orderID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to get receipt", "order_id", orderID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, receipt)
}
