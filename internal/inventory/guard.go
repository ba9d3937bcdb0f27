package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/events"
	"github.com/joao-fontenele/retailcore/internal/ledger"
	"github.com/joao-fontenele/retailcore/internal/telemetry"
)

// StockTx is the part of a ledger transaction the guard works with.
type StockTx interface {
	ledger.CatalogTx
	ledger.StockTx
}

// Change describes one stock mutation. Type is only consulted by Restore,
// where it may be MovementReturn (the default) or MovementAdjustment.
type Change struct {
	ProductID   string
	Quantity    int
	Type        domain.MovementType
	Reason      string
	UserID      string
	ReferenceID string
}

// Guard is the only writer of Product.StockQuantity. Each call performs the
// stock update and appends its movement inside the caller's transaction.
type Guard struct {
	metrics *telemetry.Instruments
	now     func() time.Time
}

func NewGuard(metrics *telemetry.Instruments) *Guard {
	return &Guard{
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve takes quantity out of stock with a conditional decrement, so two
// concurrent reservations can never drive the product below zero.
func (g *Guard) Reserve(ctx context.Context, tx StockTx, c Change) (domain.StockMovement, error) {
	if c.Quantity <= 0 {
		return domain.StockMovement{}, domain.NewError(domain.ErrInvalidQuantity,
			fmt.Sprintf("quantity for product %s must be positive, got %d", c.ProductID, c.Quantity))
	}

	level, applied, err := tx.DecrementStock(ctx, c.ProductID, c.Quantity)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("reserve product %s: %w", c.ProductID, err)
	}
	if !applied {
		product, err := tx.GetProduct(ctx, c.ProductID)
		if err != nil {
			return domain.StockMovement{}, productLookupError(c.ProductID, err)
		}
		g.metrics.StockRejected(ctx)
		return domain.StockMovement{}, domain.NewError(domain.ErrInsufficientStock,
			fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
				c.ProductID, c.Quantity, product.StockQuantity))
	}

	return g.record(ctx, tx, c, domain.MovementOut, level)
}

// Restore puts quantity back into stock. It fails only when the product does not exist.
func (g *Guard) Restore(ctx context.Context, tx StockTx, c Change) (domain.StockMovement, error) {
	typ := c.Type
	if typ == "" {
		typ = domain.MovementReturn
	}
	if typ != domain.MovementReturn && typ != domain.MovementAdjustment {
		return domain.StockMovement{}, domain.NewError(domain.ErrInvalidRequest,
			fmt.Sprintf("restore cannot record a %q movement", typ))
	}
	return g.increase(ctx, tx, c, typ)
}

// Receive books goods into stock with an "in" movement.
func (g *Guard) Receive(ctx context.Context, tx StockTx, c Change) (domain.StockMovement, error) {
	return g.increase(ctx, tx, c, domain.MovementIn)
}

func (g *Guard) increase(ctx context.Context, tx StockTx, c Change, typ domain.MovementType) (domain.StockMovement, error) {
	if c.Quantity <= 0 {
		return domain.StockMovement{}, domain.NewError(domain.ErrInvalidQuantity,
			fmt.Sprintf("quantity for product %s must be positive, got %d", c.ProductID, c.Quantity))
	}

	level, err := tx.IncrementStock(ctx, c.ProductID, c.Quantity)
	if err != nil {
		return domain.StockMovement{}, productLookupError(c.ProductID, err)
	}

	return g.record(ctx, tx, c, typ, level)
}

func (g *Guard) record(ctx context.Context, tx StockTx, c Change, typ domain.MovementType, level domain.StockLevel) (domain.StockMovement, error) {
	m := domain.StockMovement{
		ID:          ulid.Make().String(),
		ProductID:   c.ProductID,
		Type:        typ,
		Quantity:    c.Quantity,
		Reason:      domain.CleanText(c.Reason),
		UserID:      c.UserID,
		ReferenceID: c.ReferenceID,
		CreatedAt:   g.now(),
	}
	if err := tx.InsertStockMovement(ctx, m); err != nil {
		return domain.StockMovement{}, fmt.Errorf("record %s movement for product %s: %w", typ, c.ProductID, err)
	}

	buf := events.FromContext(ctx)
	buf.Audit(domain.AuditFact{
		Action:     "stock." + string(typ),
		EntityType: "product",
		EntityID:   c.ProductID,
		UserID:     c.UserID,
		OldValue:   strconv.Itoa(level.StockQuantity - m.Signed()),
		NewValue:   strconv.Itoa(level.StockQuantity),
		Reason:     m.Reason,
		OccurredAt: m.CreatedAt,
	})

	if level.Low() {
		buf.Add(events.TopicLowStock, c.ProductID, domain.LowStockEvent{
			ProductID:         c.ProductID,
			StockQuantity:     level.StockQuantity,
			LowStockThreshold: level.LowStockThreshold,
			MovementID:        m.ID,
			OccurredAt:        m.CreatedAt,
		})
		g.metrics.LowStock(ctx)
	}

	return m, nil
}

type Reconciliation struct {
	ProductID     string `json:"product_id"`
	OpeningStock  int    `json:"opening_stock"`
	MovementTotal int    `json:"movement_total"`
	Expected      int    `json:"expected"`
	Actual        int    `json:"actual"`
	Movements     int    `json:"movements"`
}

func (r Reconciliation) Balanced() bool {
	return r.Expected == r.Actual
}

// Reconcile replays the movement ledger of a product over its opening stock
// and compares the result with the stored quantity. A mismatch is an
// invariant violation and is returned together with the figures.
func (g *Guard) Reconcile(ctx context.Context, tx StockTx, productID string) (Reconciliation, error) {
	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return Reconciliation{}, productLookupError(productID, err)
	}

	movements, err := tx.ListStockMovements(ctx, productID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("list movements for product %s: %w", productID, err)
	}

	rec := Reconciliation{
		ProductID:    productID,
		OpeningStock: product.OpeningStock,
		Actual:       product.StockQuantity,
		Movements:    len(movements),
	}
	for _, m := range movements {
		rec.MovementTotal += m.Signed()
	}
	rec.Expected = rec.OpeningStock + rec.MovementTotal

	if !rec.Balanced() {
		g.metrics.ReconcileFailure(ctx)
		return rec, domain.NewError(domain.ErrInvariantViolation,
			fmt.Sprintf("product %s holds %d units but its ledger adds up to %d", productID, rec.Actual, rec.Expected))
	}
	return rec, nil
}

func productLookupError(productID string, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return domain.WrapError(domain.ErrProductNotFound, "product "+productID+" not found", err)
	}
	return fmt.Errorf("product %s: %w", productID, err)
}
