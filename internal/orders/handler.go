package orders

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/retailcore/internal/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders", h.HandleCreate)
	r.Get("/orders/{id}", h.HandleGet)
	r.Post("/orders/{id}/cancel", h.HandleCancel)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid create order request")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to create order", "customer_id", req.CustomerID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to get order", "id", id)
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

type cancelRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid cancel request")
		return
	}

	order, err := h.service.CancelOrder(r.Context(), id, req.UserID, req.Reason)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to cancel order", "id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}
