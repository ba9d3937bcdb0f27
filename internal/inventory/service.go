package inventory

import (
	"context"
	"log/slog"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/events"
	"github.com/joao-fontenele/retailcore/internal/ledger"
)

// Service runs guard operations that are requested on their own rather than
// as part of an order or a return.
type Service struct {
	store     ledger.Store
	guard     *Guard
	publisher events.Publisher
	logger    *slog.Logger
}

func NewService(store ledger.Store, guard *Guard, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		guard:     guard,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		product, err = tx.GetProduct(ctx, productID)
		if err != nil {
			return productLookupError(productID, err)
		}
		return nil
	})
	return product, err
}

func (s *Service) Movements(ctx context.Context, productID string) ([]domain.StockMovement, error) {
	var movements []domain.StockMovement
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return productLookupError(productID, err)
		}
		var err error
		movements, err = tx.ListStockMovements(ctx, productID)
		return err
	})
	return movements, err
}

func (s *Service) Receive(ctx context.Context, c Change) (domain.StockMovement, error) {
	ctx, buf := events.WithBuffer(ctx)

	var movement domain.StockMovement
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		movement, err = s.guard.Receive(ctx, tx, c)
		return err
	})
	if err != nil {
		return domain.StockMovement{}, err
	}

	events.Flush(ctx, s.publisher, buf, s.logger)
	s.logger.Info("stock received", "product_id", c.ProductID, "quantity", c.Quantity, "movement_id", movement.ID)
	return movement, nil
}

func (s *Service) Reconcile(ctx context.Context, productID string) (Reconciliation, error) {
	var rec Reconciliation
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		rec, err = s.guard.Reconcile(ctx, tx, productID)
		return err
	})
	if err != nil && domain.KindOf(err) == domain.KindInvariant {
		s.logger.Error("stock ledger out of balance", "product_id", productID,
			"expected", rec.Expected, "actual", rec.Actual, "error", err)
	}
	return rec, err
}
