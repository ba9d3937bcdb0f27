package inventory

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
	r.Get("/inventory/{productId}", h.HandleGetStock)
	r.Get("/inventory/{productId}/movements", h.HandleListMovements)
	r.Get("/inventory/{productId}/reconcile", h.HandleReconcile)
	r.Post("/inventory/{productId}/receive", h.HandleReceive)
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	product, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to get stock", "product_id", productID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, product)
}

func (h *Handler) HandleListMovements(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	movements, err := h.service.Movements(r.Context(), productID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to list movements", "product_id", productID)
		return
	}

	h.logger.Info("movements listed", "product_id", productID, "count", len(movements))
	httpx.WriteJSON(w, h.logger, http.StatusOK, movements)
}

func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	rec, err := h.service.Reconcile(r.Context(), productID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to reconcile stock", "product_id", productID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, rec)
}

type receiveRequest struct {
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason"`
	UserID      string `json:"user_id"`
	ReferenceID string `json:"reference_id"`
}

func (h *Handler) HandleReceive(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid receive request")
		return
	}

	movement, err := h.service.Receive(r.Context(), Change{
		ProductID:   productID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		UserID:      req.UserID,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to receive stock", "product_id", productID, "quantity", req.Quantity)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, movement)
}
