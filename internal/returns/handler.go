package returns

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/retailcore/internal/httpx"
)

type Handler struct {
	processor *Processor
	logger    *slog.Logger
}

func NewHandler(processor *Processor, logger *slog.Logger) *Handler {
	return &Handler{
		processor: processor,
		logger:    logger,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders/{id}/returns", h.HandleCreate)
	r.Get("/returns/{id}", h.HandleGet)
	r.Post("/returns/{id}/approve", h.HandleApprove)
	r.Post("/returns/{id}/complete", h.HandleComplete)
	r.Post("/returns/{id}/reject", h.HandleReject)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid return request")
		return
	}
	req.OrderID = chi.URLParam(r, "id")

	ret, err := h.processor.CreateReturn(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to create return", "order_id", req.OrderID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, ret)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ret, err := h.processor.GetReturn(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to get return", "return_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, ret)
}

type decisionRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid approve request")
		return
	}

	ret, err := h.processor.ApproveReturn(r.Context(), id, req.UserID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to approve return", "return_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, ret)
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid complete request")
		return
	}

	ret, err := h.processor.CompleteReturn(r.Context(), id, req.UserID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to complete return", "return_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, ret)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err, "invalid reject request")
		return
	}

	ret, err := h.processor.RejectReturn(r.Context(), id, req.UserID, req.Reason)
	if err != nil {
		httpx.WriteError(w, h.logger, err, "failed to reject return", "return_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, ret)
}
