package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/retailcore/internal/config"
	"github.com/joao-fontenele/retailcore/internal/domain"
	"github.com/joao-fontenele/retailcore/internal/events"
	"github.com/joao-fontenele/retailcore/internal/inventory"
	"github.com/joao-fontenele/retailcore/internal/ledger"
	"github.com/joao-fontenele/retailcore/internal/ledger/memory"
	"github.com/joao-fontenele/retailcore/internal/ledger/postgres"
	"github.com/joao-fontenele/retailcore/internal/messaging"
	"github.com/joao-fontenele/retailcore/internal/orders"
	"github.com/joao-fontenele/retailcore/internal/payments"
	"github.com/joao-fontenele/retailcore/internal/pricing"
	"github.com/joao-fontenele/retailcore/internal/receipts"
	"github.com/joao-fontenele/retailcore/internal/returns"
	"github.com/joao-fontenele/retailcore/internal/telemetry"
)

const (
	serviceName    = "retailcore-pos"
	serviceVersion = "0.1.0"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateStore()
	}
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	instruments, err := telemetry.NewInstruments()
	if err != nil {
		logger.Error("failed to register instruments", "error", err)
		os.Exit(1)
	}

	store, health, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err, "store_mode", cfg.StoreMode)
		os.Exit(1)
	}
	defer closeStore()

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers)
		defer func() { _ = producer.Close() }()
		publisher = events.Multi{producer, publisher}
	}

	processors := payments.DefaultProcessors()
	if cfg.StripeAPIKey != "" {
		stripeProcessor, err := payments.NewStripeProcessor(cfg.StripeAPIKey, cfg.Currency)
		if err != nil {
			logger.Error("failed to configure stripe", "error", err)
			os.Exit(1)
		}
		processors[domain.PaymentMethodCard] = stripeProcessor
	}

	guard := inventory.NewGuard(instruments)
	retry := ledger.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.OrderRetryAttempts

	inventoryService := inventory.NewService(store, guard, publisher, logger)
	orderService := orders.NewService(store, pricing.NewResolver(), guard, publisher, instruments, logger,
		orders.WithRetryPolicy(retry))
	recorder := payments.NewRecorder(store, processors, publisher, instruments, logger,
		payments.WithCurrency(cfg.Currency))
	issuer := receipts.NewIssuer(store, publisher, logger, receipts.WithStoreName(cfg.StoreName))
	returnProcessor := returns.NewProcessor(store, guard, publisher, instruments, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RouteAttribute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metricsHandler)

	orders.NewHandler(orderService, logger).Routes(r)
	payments.NewHandler(recorder, logger).Routes(r)
	receipts.NewHandler(issuer, logger).Routes(r)
	returns.NewHandler(returnProcessor, logger).Routes(r)
	inventory.NewHandler(inventoryService, logger).Routes(r)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting pos service", "port", cfg.Port, "store_mode", cfg.StoreMode, "kafka", len(cfg.KafkaBrokers) > 0)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ledger.Store, func(context.Context) error, func(), error) {
	if cfg.StoreMode == config.StoreModeMemory {
		store := memory.New()
		memory.Seed(store)
		logger.Warn("using in-memory store, data is lost on restart")
		return store, func(context.Context) error { return nil }, func() {}, nil
	}

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL, cfg.DBSchema)
	if err != nil {
		return nil, nil, nil, err
	}
	store := postgres.NewStore(db, postgres.Options{
		TxTimeout:   cfg.TxTimeout,
		LockTimeout: cfg.LockTimeout,
	})
	return store, db.PingContext, func() { _ = db.Close() }, nil
}
