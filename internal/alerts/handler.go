// Package alerts forwards low-stock events to an operator webhook.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

type LowStockHandler struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewLowStockHandler(webhookURL string, client *http.Client, logger *slog.Logger) *LowStockHandler {
	return &LowStockHandler{
		webhookURL: webhookURL,
		httpClient: client,
		logger:     logger,
	}
}

type notification struct {
	Text          string `json:"text"`
	ProductID     string `json:"product_id"`
	StockQuantity int    `json:"stock_quantity"`
	Threshold     int    `json:"low_stock_threshold"`
	MovementID    string `json:"movement_id"`
	OccurredAt    string `json:"occurred_at"`
}

// Handle posts one inventory.low-stock event to the webhook. Malformed events
// are logged and dropped; delivery failures are returned so the message is
// retried.
func (h *LowStockHandler) Handle(ctx context.Context, key, payload []byte) error {
	var event domain.LowStockEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping malformed low stock event", "error", err, "key", string(key))
		return nil
	}

	h.logger.Info("processing low stock event", "product_id", event.ProductID, "stock_quantity", event.StockQuantity)

	if err := h.notify(ctx, event); err != nil {
		h.logger.Error("failed to deliver low stock alert", "error", err, "product_id", event.ProductID)
		return fmt.Errorf("deliver low stock alert for %s: %w", event.ProductID, err)
	}

	h.logger.Info("low stock alert delivered", "product_id", event.ProductID)
	return nil
}

func (h *LowStockHandler) notify(ctx context.Context, event domain.LowStockEvent) error {
	body := notification{
		Text: fmt.Sprintf("Product %s is low on stock: %d left (threshold %d)",
			event.ProductID, event.StockQuantity, event.LowStockThreshold),
		ProductID:     event.ProductID,
		StockQuantity: event.StockQuantity,
		Threshold:     event.LowStockThreshold,
		MovementID:    event.MovementID,
		OccurredAt:    event.OccurredAt.UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
