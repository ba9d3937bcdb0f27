// Package memory is an in-process ledger.Store. Transactions are serialised
// behind one mutex and applied to a private copy of the state that replaces
// the live state only on commit, so a failed callback leaves nothing behind.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/ledger"
)

type state struct {
	products     map[string]domain.Product
	movements    []domain.StockMovement
	discounts    map[string]domain.Discount
	taxConfigs   []domain.TaxConfig
	orders       map[string]domain.Order
	orderNumbers map[string]string
	orderItems   map[string][]domain.OrderItem
	payments     map[string]domain.Payment
	receipts     map[string]domain.Receipt
	returns      map[string]domain.Return
}

func newState() *state {
	return &state{
		products:     make(map[string]domain.Product),
		discounts:    make(map[string]domain.Discount),
		orders:       make(map[string]domain.Order),
		orderNumbers: make(map[string]string),
		orderItems:   make(map[string][]domain.OrderItem),
		payments:     make(map[string]domain.Payment),
		receipts:     make(map[string]domain.Receipt),
		returns:      make(map[string]domain.Return),
	}
}

func (s *state) clone() *state {
	c := &state{
		products:     maps.Clone(s.products),
		movements:    slices.Clone(s.movements),
		discounts:    maps.Clone(s.discounts),
		taxConfigs:   slices.Clone(s.taxConfigs),
		orders:       maps.Clone(s.orders),
		orderNumbers: maps.Clone(s.orderNumbers),
		orderItems:   make(map[string][]domain.OrderItem, len(s.orderItems)),
		payments:     maps.Clone(s.payments),
		receipts:     maps.Clone(s.receipts),
		returns:      make(map[string]domain.Return, len(s.returns)),
	}
	for id, items := range s.orderItems {
		c.orderItems[id] = slices.Clone(items)
	}
	for id, r := range s.returns {
		r.Items = slices.Clone(r.Items)
		c.returns[id] = r
	}
	return c
}

// FaultFunc is consulted before every Tx operation; a non-nil error aborts the
// operation with that error.
type FaultFunc func(op string) error

type Store struct {
	mu    sync.Mutex
	state *state
	fault FaultFunc
}

func New() *Store {
	return &Store{state: newState()}
}

// InjectFault installs f for subsequent transactions. Passing nil removes it.
func (s *Store) InjectFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, &tx{state: work, fault: s.fault}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = work
	return nil
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.OpeningStock == 0 {
		p.OpeningStock = p.StockQuantity
	}
	s.state.products[p.ID] = p
}

func (s *Store) AddDiscount(d domain.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.discounts[d.ID] = d
}

func (s *Store) AddTaxConfig(c domain.TaxConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.taxConfigs = append(s.state.taxConfigs, c)
}

func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.products[id]
	return p, ok
}

// Movements returns the committed movements of a product in insertion order.
func (s *Store) Movements(productID string) []domain.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StockMovement
	for _, m := range s.state.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *Store) Payment(orderID string) (domain.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.payments[orderID]
	return p, ok
}

func (s *Store) Returns(orderID string) []domain.Return {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Return
	for _, r := range s.state.returns {
		if r.OrderID == orderID {
			r.Items = slices.Clone(r.Items)
			out = append(out, r)
		}
	}
	return out
}
