package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/ledger"
)

type tx struct {
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
	}
	return classify(context.Background(), err)
}

const productColumns = `id, sku, name, price, cost_price, stock_quantity, low_stock_threshold, opening_stock, warranty_months`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.CostPrice,
		&p.StockQuantity, &p.LowStockThreshold, &p.OpeningStock, &p.WarrantyMonths)
	return p, err
}

func (t *tx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		return domain.Product{}, notFound(err, "product "+id)
	}
	return p, nil
}

func (t *tx) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	products := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return products, nil
}

func (t *tx) DecrementStock(ctx context.Context, productID string, quantity int) (domain.StockLevel, bool, error) {
	var level domain.StockLevel
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING id, stock_quantity, low_stock_threshold
	`, productID, quantity).Scan(&level.ProductID, &level.StockQuantity, &level.LowStockThreshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLevel{}, false, nil
		}
		return domain.StockLevel{}, false, classify(ctx, err)
	}
	return level, true, nil
}

func (t *tx) IncrementStock(ctx context.Context, productID string, quantity int) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, stock_quantity, low_stock_threshold
	`, productID, quantity).Scan(&level.ProductID, &level.StockQuantity, &level.LowStockThreshold)
	if err != nil {
		return domain.StockLevel{}, notFound(err, "product "+productID)
	}
	return level, nil
}

func (t *tx) InsertStockMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, type, quantity, reason, user_id, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.ProductID, m.Type, m.Quantity, nullString(m.Reason), nullString(m.UserID), nullString(m.ReferenceID), m.CreatedAt)
	return classify(ctx, err)
}

func (t *tx) ListStockMovements(ctx context.Context, productID string) ([]domain.StockMovement, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, product_id, type, quantity, reason, user_id, reference_id, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at, id
	`, productID)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	var movements []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		var reason, userID, referenceID sql.NullString
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &reason, &userID, &referenceID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Reason, m.UserID, m.ReferenceID = reason.String, userID.String, referenceID.String
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return movements, nil
}

func (t *tx) GetDiscount(ctx context.Context, codeOrID string) (domain.Discount, error) {
	var d domain.Discount
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, code, type, value, min_purchase, max_discount, is_active, start_date, end_date
		FROM discounts
		WHERE id = $1 OR lower(code) = lower($1)
		ORDER BY (id = $1) DESC
		LIMIT 1
	`, codeOrID).Scan(&d.ID, &d.Code, &d.Type, &d.Value, &d.MinPurchase, &d.MaxDiscount, &d.IsActive, &d.StartDate, &d.EndDate)
	if err != nil {
		return domain.Discount{}, notFound(err, "discount "+codeOrID)
	}
	return d, nil
}

func (t *tx) GetActiveTaxConfig(ctx context.Context) (domain.TaxConfig, error) {
	var c domain.TaxConfig
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, rate, is_active
		FROM tax_configs
		WHERE is_active
		LIMIT 1
	`).Scan(&c.ID, &c.Name, &c.Rate, &c.IsActive)
	if err != nil {
		return domain.TaxConfig{}, notFound(err, "active tax config")
	}
	return c, nil
}

func (t *tx) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, status, return_status, subtotal, tax_amount, discount_amount, total_amount,
			tax_rate, discount_id, customer_id, agent_id, coupon_code, shipping_address, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, o.ID, o.OrderNumber, o.Status, o.ReturnStatus, o.Subtotal, o.TaxAmount, o.DiscountAmount, o.TotalAmount,
		o.TaxRate, nullString(o.DiscountID), nullString(o.CustomerID), nullString(o.AgentID),
		nullString(o.CouponCode), nullString(o.ShippingAddress), o.CreatedAt, o.UpdatedAt)
	return classify(ctx, err)
}

func (t *tx) InsertOrderItems(ctx context.Context, items []domain.OrderItem) error {
	for _, item := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price, cost_price, serial_number, warranty_expiry)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, item.OrderID, item.ProductID, item.Quantity, item.Price, item.CostPrice,
			nullString(item.SerialNumber), item.WarrantyExpiry)
		if err != nil {
			return classify(ctx, err)
		}
	}
	return nil
}

const orderColumns = `id, order_number, status, return_status, subtotal, tax_amount, discount_amount, total_amount,
	tax_rate, discount_id, customer_id, agent_id, coupon_code, shipping_address, created_at, updated_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var discountID, customerID, agentID, couponCode, shippingAddress sql.NullString
	err := row.Scan(&o.ID, &o.OrderNumber, &o.Status, &o.ReturnStatus, &o.Subtotal, &o.TaxAmount,
		&o.DiscountAmount, &o.TotalAmount, &o.TaxRate, &discountID, &customerID, &agentID,
		&couponCode, &shippingAddress, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.DiscountID = discountID.String
	o.CustomerID = customerID.String
	o.AgentID = agentID.String
	o.CouponCode = couponCode.String
	o.ShippingAddress = shippingAddress.String
	return o, nil
}

func (t *tx) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order "+id)
	}
	return o, nil
}

func (t *tx) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order "+id)
	}
	return o, nil
}

func (t *tx) ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, price, cost_price, serial_number, warranty_expiry
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id, id
	`, orderID)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		var serial sql.NullString
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price,
			&item.CostPrice, &serial, &item.WarrantyExpiry); err != nil {
			return nil, err
		}
		item.SerialNumber = serial.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return items, nil
}

func (t *tx) UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, classify(ctx, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func (t *tx) UpdateOrderReturnStatus(ctx context.Context, id string, status domain.ReturnStatus) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET return_status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return classify(ctx, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("order %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

const paymentColumns = `id, order_id, amount, method, status, amount_tendered, change_amount,
	provider_ref, failure_reason, created_at, updated_at`

func (t *tx) GetPaymentByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	var p domain.Payment
	var providerRef, failureReason sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
	`, orderID).Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.AmountTendered,
		&p.ChangeAmount, &providerRef, &failureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Payment{}, notFound(err, "payment for order "+orderID)
	}
	p.ProviderRef = providerRef.String
	p.FailureReason = failureReason.String
	return p, nil
}

func (t *tx) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.OrderID, p.Amount, p.Method, p.Status, p.AmountTendered, p.ChangeAmount,
		nullString(p.ProviderRef), nullString(p.FailureReason), p.CreatedAt, p.UpdatedAt)
	return classify(ctx, err)
}

func (t *tx) UpdatePayment(ctx context.Context, p domain.Payment) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE payments
		SET method = $2, status = $3, amount_tendered = $4, change_amount = $5,
			provider_ref = $6, failure_reason = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.Method, p.Status, p.AmountTendered, p.ChangeAmount,
		nullString(p.ProviderRef), nullString(p.FailureReason), p.UpdatedAt)
	if err != nil {
		return classify(ctx, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payment %s: %w", p.ID, ledger.ErrNotFound)
	}
	return nil
}

const receiptColumns = `id, order_id, receipt_number, content, reprint_count, issued_at, last_printed_at`

func scanReceipt(row rowScanner) (domain.Receipt, error) {
	var r domain.Receipt
	err := row.Scan(&r.ID, &r.OrderID, &r.ReceiptNumber, &r.Content, &r.ReprintCount, &r.IssuedAt, &r.LastPrintedAt)
	return r, err
}

func (t *tx) GetReceiptByOrder(ctx context.Context, orderID string) (domain.Receipt, error) {
	r, err := scanReceipt(t.tx.QueryRowContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE order_id = $1
	`, orderID))
	if err != nil {
		return domain.Receipt{}, notFound(err, "receipt for order "+orderID)
	}
	return r, nil
}

func (t *tx) InsertReceipt(ctx context.Context, r domain.Receipt) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.OrderID, r.ReceiptNumber, r.Content, r.ReprintCount, r.IssuedAt, r.LastPrintedAt)
	return classify(ctx, err)
}

func (t *tx) IncrementReprintCount(ctx context.Context, orderID string) (domain.Receipt, error) {
	r, err := scanReceipt(t.tx.QueryRowContext(ctx, `
		UPDATE receipts
		SET reprint_count = reprint_count + 1, last_printed_at = NOW()
		WHERE order_id = $1
		RETURNING `+receiptColumns, orderID))
	if err != nil {
		return domain.Receipt{}, notFound(err, "receipt for order "+orderID)
	}
	return r, nil
}

func (t *tx) InsertReturn(ctx context.Context, r domain.Return) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO returns (id, order_id, status, reason, decision_reason, total_refund, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.OrderID, r.Status, r.Reason, nullString(r.DecisionReason), r.TotalRefund,
		nullString(r.UserID), r.CreatedAt, r.UpdatedAt)
	return classify(ctx, err)
}

func (t *tx) InsertReturnItems(ctx context.Context, items []domain.ReturnItem) error {
	for _, item := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO return_items (id, return_id, order_item_id, product_id, quantity, condition, refund_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.ReturnID, item.OrderItemID, item.ProductID, item.Quantity,
			nullString(item.Condition), item.RefundAmount)
		if err != nil {
			return classify(ctx, err)
		}
	}
	return nil
}

func (t *tx) GetReturn(ctx context.Context, id string) (domain.Return, error) {
	return t.getReturn(ctx, id, false)
}

func (t *tx) LockReturn(ctx context.Context, id string) (domain.Return, error) {
	return t.getReturn(ctx, id, true)
}

func (t *tx) getReturn(ctx context.Context, id string, lock bool) (domain.Return, error) {
	query := `
		SELECT id, order_id, status, reason, decision_reason, total_refund, user_id, created_at, updated_at
		FROM returns
		WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var r domain.Return
	var decisionReason, userID sql.NullString
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&r.ID, &r.OrderID, &r.Status, &r.Reason,
		&decisionReason, &r.TotalRefund, &userID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Return{}, notFound(err, "return "+id)
	}
	r.DecisionReason = decisionReason.String
	r.UserID = userID.String

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, return_id, order_item_id, product_id, quantity, condition, refund_amount
		FROM return_items
		WHERE return_id = $1
		ORDER BY product_id, id
	`, id)
	if err != nil {
		return domain.Return{}, classify(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.ReturnItem
		var condition sql.NullString
		if err := rows.Scan(&item.ID, &item.ReturnID, &item.OrderItemID, &item.ProductID,
			&item.Quantity, &condition, &item.RefundAmount); err != nil {
			return domain.Return{}, err
		}
		item.Condition = condition.String
		r.Items = append(r.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Return{}, classify(ctx, err)
	}
	return r, nil
}

func (t *tx) UpdateReturnStatus(ctx context.Context, id string, from, to domain.ReturnState, decisionReason string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE returns
		SET status = $3, decision_reason = COALESCE($4, decision_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, nullString(decisionReason))
	if err != nil {
		return false, classify(ctx, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func (t *tx) ReturnedQuantities(ctx context.Context, orderID string) (map[string]int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT ri.order_item_id, SUM(ri.quantity)
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		WHERE r.order_id = $1 AND r.status <> $2
		GROUP BY ri.order_item_id
	`, orderID, domain.ReturnRejected)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	returned := make(map[string]int)
	for rows.Next() {
		var itemID string
		var quantity int
		if err := rows.Scan(&itemID, &quantity); err != nil {
			return nil, err
		}
		returned[itemID] = quantity
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return returned, nil
}
