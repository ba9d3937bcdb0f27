package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/ledger"
)

type tx struct {
	state *state
	fault FaultFunc
}

func (t *tx) check(op string) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op)
}

func (t *tx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := t.check("GetProduct"); err != nil {
		return domain.Product{}, err
	}
	p, ok := t.state.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, ledger.ErrNotFound)
	}
	return p, nil
}

func (t *tx) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if err := t.check("GetProducts"); err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.state.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *tx) DecrementStock(ctx context.Context, productID string, quantity int) (domain.StockLevel, bool, error) {
	if err := t.check("DecrementStock"); err != nil {
		return domain.StockLevel{}, false, err
	}
	p, ok := t.state.products[productID]
	if !ok || p.StockQuantity < quantity {
		return domain.StockLevel{}, false, nil
	}
	p.StockQuantity -= quantity
	t.state.products[productID] = p
	return levelOf(p), true, nil
}

func (t *tx) IncrementStock(ctx context.Context, productID string, quantity int) (domain.StockLevel, error) {
	if err := t.check("IncrementStock"); err != nil {
		return domain.StockLevel{}, err
	}
	p, ok := t.state.products[productID]
	if !ok {
		return domain.StockLevel{}, fmt.Errorf("product %s: %w", productID, ledger.ErrNotFound)
	}
	p.StockQuantity += quantity
	t.state.products[productID] = p
	return levelOf(p), nil
}

func levelOf(p domain.Product) domain.StockLevel {
	return domain.StockLevel{
		ProductID:         p.ID,
		StockQuantity:     p.StockQuantity,
		LowStockThreshold: p.LowStockThreshold,
	}
}

func (t *tx) InsertStockMovement(ctx context.Context, m domain.StockMovement) error {
	if err := t.check("InsertStockMovement"); err != nil {
		return err
	}
	if _, ok := t.state.products[m.ProductID]; !ok {
		return fmt.Errorf("movement for product %s: %w", m.ProductID, ledger.ErrNotFound)
	}
	t.state.movements = append(t.state.movements, m)
	return nil
}

func (t *tx) ListStockMovements(ctx context.Context, productID string) ([]domain.StockMovement, error) {
	if err := t.check("ListStockMovements"); err != nil {
		return nil, err
	}
	var out []domain.StockMovement
	for _, m := range t.state.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *tx) GetDiscount(ctx context.Context, codeOrID string) (domain.Discount, error) {
	if err := t.check("GetDiscount"); err != nil {
		return domain.Discount{}, err
	}
	if d, ok := t.state.discounts[codeOrID]; ok {
		return d, nil
	}
	for _, d := range t.state.discounts {
		if strings.EqualFold(d.Code, codeOrID) {
			return d, nil
		}
	}
	return domain.Discount{}, fmt.Errorf("discount %s: %w", codeOrID, ledger.ErrNotFound)
}

func (t *tx) GetActiveTaxConfig(ctx context.Context) (domain.TaxConfig, error) {
	if err := t.check("GetActiveTaxConfig"); err != nil {
		return domain.TaxConfig{}, err
	}
	for _, c := range t.state.taxConfigs {
		if c.IsActive {
			return c, nil
		}
	}
	return domain.TaxConfig{}, fmt.Errorf("active tax config: %w", ledger.ErrNotFound)
}

func (t *tx) InsertOrder(ctx context.Context, order domain.Order) error {
	if err := t.check("InsertOrder"); err != nil {
		return err
	}
	if _, ok := t.state.orders[order.ID]; ok {
		return fmt.Errorf("order %s: %w", order.ID, ledger.ErrConflict)
	}
	if _, ok := t.state.orderNumbers[order.OrderNumber]; ok {
		return fmt.Errorf("order number %s: %w", order.OrderNumber, ledger.ErrConflict)
	}
	order.Items = nil
	t.state.orders[order.ID] = order
	t.state.orderNumbers[order.OrderNumber] = order.ID
	return nil
}

func (t *tx) InsertOrderItems(ctx context.Context, items []domain.OrderItem) error {
	if err := t.check("InsertOrderItems"); err != nil {
		return err
	}
	for _, item := range items {
		if _, ok := t.state.orders[item.OrderID]; !ok {
			return fmt.Errorf("order %s: %w", item.OrderID, ledger.ErrNotFound)
		}
		t.state.orderItems[item.OrderID] = append(t.state.orderItems[item.OrderID], item)
	}
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := t.check("GetOrder"); err != nil {
		return domain.Order{}, err
	}
	o, ok := t.state.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, ledger.ErrNotFound)
	}
	return o, nil
}

// LockOrder needs no row lock here; the store mutex already serialises transactions.
func (t *tx) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := t.check("LockOrder"); err != nil {
		return domain.Order{}, err
	}
	return t.GetOrder(ctx, id)
}

func (t *tx) ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	if err := t.check("ListOrderItems"); err != nil {
		return nil, err
	}
	return slices.Clone(t.state.orderItems[orderID]), nil
}

func (t *tx) UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	if err := t.check("UpdateOrderStatus"); err != nil {
		return false, err
	}
	o, ok := t.state.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	t.state.orders[id] = o
	return true, nil
}

func (t *tx) UpdateOrderReturnStatus(ctx context.Context, id string, status domain.ReturnStatus) error {
	if err := t.check("UpdateOrderReturnStatus"); err != nil {
		return err
	}
	o, ok := t.state.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ledger.ErrNotFound)
	}
	o.ReturnStatus = status
	t.state.orders[id] = o
	return nil
}

func (t *tx) GetPaymentByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if err := t.check("GetPaymentByOrder"); err != nil {
		return domain.Payment{}, err
	}
	p, ok := t.state.payments[orderID]
	if !ok {
		return domain.Payment{}, fmt.Errorf("payment for order %s: %w", orderID, ledger.ErrNotFound)
	}
	return p, nil
}

func (t *tx) InsertPayment(ctx context.Context, p domain.Payment) error {
	if err := t.check("InsertPayment"); err != nil {
		return err
	}
	if _, ok := t.state.payments[p.OrderID]; ok {
		return fmt.Errorf("payment for order %s: %w", p.OrderID, ledger.ErrConflict)
	}
	t.state.payments[p.OrderID] = p
	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, p domain.Payment) error {
	if err := t.check("UpdatePayment"); err != nil {
		return err
	}
	existing, ok := t.state.payments[p.OrderID]
	if !ok || existing.ID != p.ID {
		return fmt.Errorf("payment %s: %w", p.ID, ledger.ErrNotFound)
	}
	p.Amount = existing.Amount
	p.CreatedAt = existing.CreatedAt
	t.state.payments[p.OrderID] = p
	return nil
}

func (t *tx) GetReceiptByOrder(ctx context.Context, orderID string) (domain.Receipt, error) {
	if err := t.check("GetReceiptByOrder"); err != nil {
		return domain.Receipt{}, err
	}
	r, ok := t.state.receipts[orderID]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("receipt for order %s: %w", orderID, ledger.ErrNotFound)
	}
	return r, nil
}

func (t *tx) InsertReceipt(ctx context.Context, r domain.Receipt) error {
	if err := t.check("InsertReceipt"); err != nil {
		return err
	}
	if _, ok := t.state.receipts[r.OrderID]; ok {
		return fmt.Errorf("receipt for order %s: %w", r.OrderID, ledger.ErrConflict)
	}
	for _, existing := range t.state.receipts {
		if existing.ReceiptNumber == r.ReceiptNumber {
			return fmt.Errorf("receipt number %s: %w", r.ReceiptNumber, ledger.ErrConflict)
		}
	}
	t.state.receipts[r.OrderID] = r
	return nil
}

func (t *tx) IncrementReprintCount(ctx context.Context, orderID string) (domain.Receipt, error) {
	if err := t.check("IncrementReprintCount"); err != nil {
		return domain.Receipt{}, err
	}
	r, ok := t.state.receipts[orderID]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("receipt for order %s: %w", orderID, ledger.ErrNotFound)
	}
	now := time.Now().UTC()
	r.ReprintCount++
	r.LastPrintedAt = &now
	t.state.receipts[orderID] = r
	return r, nil
}

func (t *tx) InsertReturn(ctx context.Context, r domain.Return) error {
	if err := t.check("InsertReturn"); err != nil {
		return err
	}
	if _, ok := t.state.orders[r.OrderID]; !ok {
		return fmt.Errorf("order %s: %w", r.OrderID, ledger.ErrNotFound)
	}
	if _, ok := t.state.returns[r.ID]; ok {
		return fmt.Errorf("return %s: %w", r.ID, ledger.ErrConflict)
	}
	r.Items = nil
	t.state.returns[r.ID] = r
	return nil
}

func (t *tx) InsertReturnItems(ctx context.Context, items []domain.ReturnItem) error {
	if err := t.check("InsertReturnItems"); err != nil {
		return err
	}
	for _, item := range items {
		r, ok := t.state.returns[item.ReturnID]
		if !ok {
			return fmt.Errorf("return %s: %w", item.ReturnID, ledger.ErrNotFound)
		}
		r.Items = append(r.Items, item)
		t.state.returns[item.ReturnID] = r
	}
	return nil
}

func (t *tx) GetReturn(ctx context.Context, id string) (domain.Return, error) {
	if err := t.check("GetReturn"); err != nil {
		return domain.Return{}, err
	}
	r, ok := t.state.returns[id]
	if !ok {
		return domain.Return{}, fmt.Errorf("return %s: %w", id, ledger.ErrNotFound)
	}
	r.Items = slices.Clone(r.Items)
	return r, nil
}

func (t *tx) LockReturn(ctx context.Context, id string) (domain.Return, error) {
	if err := t.check("LockReturn"); err != nil {
		return domain.Return{}, err
	}
	return t.GetReturn(ctx, id)
}

func (t *tx) UpdateReturnStatus(ctx context.Context, id string, from, to domain.ReturnState, decisionReason string) (bool, error) {
	if err := t.check("UpdateReturnStatus"); err != nil {
		return false, err
	}
	r, ok := t.state.returns[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	if decisionReason != "" {
		r.DecisionReason = decisionReason
	}
	t.state.returns[id] = r
	return true, nil
}

func (t *tx) ReturnedQuantities(ctx context.Context, orderID string) (map[string]int, error) {
	if err := t.check("ReturnedQuantities"); err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, r := range t.state.returns {
		if r.OrderID != orderID || r.Status == domain.ReturnRejected {
			continue
		}
		for _, item := range r.Items {
			out[item.OrderItemID] += item.Quantity
		}
	}
	return out, nil
}
