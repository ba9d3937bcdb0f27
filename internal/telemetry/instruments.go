package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/joao-fontenele/retailcore"

// Instruments holds the business counters of the core. Every method is safe
// on a nil receiver so services can run without metrics.
type Instruments struct {
	ordersCreated     metric.Int64Counter
	stockRejected     metric.Int64Counter
	lowStock          metric.Int64Counter
	payments          metric.Int64Counter
	returns           metric.Int64Counter
	txRetries         metric.Int64Counter
	reconcileFailures metric.Int64Counter
}

// NewInstruments registers the counters on the global MeterProvider. Call it
// after InitMeterProvider or rely on the global provider delegating later.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter(meterName)

	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	in := &Instruments{
		ordersCreated:     counter("pos.orders.created", "Orders committed in PENDING_PAYMENT"),
		stockRejected:     counter("pos.stock.reservations.rejected", "Reservations refused for insufficient stock"),
		lowStock:          counter("pos.stock.low", "Stock mutations that left a product under its threshold"),
		payments:          counter("pos.payments", "Payment attempts by method and outcome"),
		returns:           counter("pos.returns", "Return transitions by resulting status"),
		txRetries:         counter("pos.tx.retries", "Transactions retried after a transient store failure"),
		reconcileFailures: counter("pos.stock.reconcile.failures", "Products whose stock diverged from the movement ledger"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *Instruments) OrderCreated(ctx context.Context) {
	if in == nil {
		return
	}
	in.ordersCreated.Add(ctx, 1)
}

func (in *Instruments) StockRejected(ctx context.Context) {
	if in == nil {
		return
	}
	in.stockRejected.Add(ctx, 1)
}

func (in *Instruments) LowStock(ctx context.Context) {
	if in == nil {
		return
	}
	in.lowStock.Add(ctx, 1)
}

func (in *Instruments) Payment(ctx context.Context, method, status string) {
	if in == nil {
		return
	}
	in.payments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
}

func (in *Instruments) Return(ctx context.Context, status string) {
	if in == nil {
		return
	}
	in.returns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (in *Instruments) TxRetry(ctx context.Context, operation string) {
	if in == nil {
		return
	}
	in.txRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (in *Instruments) ReconcileFailure(ctx context.Context) {
	if in == nil {
		return
	}
	in.reconcileFailures.Add(ctx, 1)
}
