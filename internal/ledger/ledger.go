// Package ledger defines the transactional storage boundary of the core.
// Every multi-row mutation runs inside Store.RunInTx; the Tx handed to the
// callback is the only way components read or write persisted state.
package ledger

import (
	"context"
	"errors"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

var (
	ErrNotFound  = errors.New("ledger: not found")
	ErrConflict  = errors.New("ledger: unique constraint violated")
	ErrTransient = errors.New("ledger: transient failure")
)

// IsTransient reports whether err is worth retrying in a fresh transaction.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

type Store interface {
	// RunInTx executes fn in a single transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	CatalogTx
	StockTx
	PricingTx
	OrderTx
	PaymentTx
	ReceiptTx
	ReturnTx
}

type CatalogTx interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

type StockTx interface {
	// DecrementStock subtracts quantity only if enough stock is available.
	// applied is false when the guard rejected the update or the product is missing.
	DecrementStock(ctx context.Context, productID string, quantity int) (level domain.StockLevel, applied bool, err error)
	IncrementStock(ctx context.Context, productID string, quantity int) (domain.StockLevel, error)
	InsertStockMovement(ctx context.Context, m domain.StockMovement) error
	ListStockMovements(ctx context.Context, productID string) ([]domain.StockMovement, error)
}

type PricingTx interface {
	GetDiscount(ctx context.Context, codeOrID string) (domain.Discount, error)
	GetActiveTaxConfig(ctx context.Context) (domain.TaxConfig, error)
}

type OrderTx interface {
	InsertOrder(ctx context.Context, order domain.Order) error
	InsertOrderItems(ctx context.Context, items []domain.OrderItem) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	// LockOrder reads the order and holds its row lock until the transaction ends.
	LockOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	// UpdateOrderStatus sets the status only if it still equals from.
	UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
	UpdateOrderReturnStatus(ctx context.Context, id string, status domain.ReturnStatus) error
}

type PaymentTx interface {
	GetPaymentByOrder(ctx context.Context, orderID string) (domain.Payment, error)
	InsertPayment(ctx context.Context, p domain.Payment) error
	// UpdatePayment rewrites status and capture details; the amount is never changed.
	UpdatePayment(ctx context.Context, p domain.Payment) error
}

type ReceiptTx interface {
	GetReceiptByOrder(ctx context.Context, orderID string) (domain.Receipt, error)
	InsertReceipt(ctx context.Context, r domain.Receipt) error
	IncrementReprintCount(ctx context.Context, orderID string) (domain.Receipt, error)
}

type ReturnTx interface {
	InsertReturn(ctx context.Context, r domain.Return) error
	InsertReturnItems(ctx context.Context, items []domain.ReturnItem) error
	GetReturn(ctx context.Context, id string) (domain.Return, error)
	LockReturn(ctx context.Context, id string) (domain.Return, error)
	UpdateReturnStatus(ctx context.Context, id string, from, to domain.ReturnState, decisionReason string) (bool, error)
	// ReturnedQuantities sums return quantities per order item across every
	// return of the order that was not rejected.
	ReturnedQuantities(ctx context.Context, orderID string) (map[string]int, error)
}

// Surface returns err unchanged when it is already a domain error and wraps
// anything else as ErrTemporarilyUnavailable, so callers always receive one of
// the typed error kinds.
func Surface(err error) error {
	if err == nil {
		return nil
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	return domain.WrapError(domain.ErrTemporarilyUnavailable, "store operation failed", err)
}
