package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/cafe-pos/internal/cart"
	"github.com/joao-fontenele/cafe-pos/internal/catalog"
	"github.com/joao-fontenele/cafe-pos/internal/checkout"
	"github.com/joao-fontenele/cafe-pos/internal/config"
	"github.com/joao-fontenele/cafe-pos/internal/connectivity"
	"github.com/joao-fontenele/cafe-pos/internal/localdb"
	"github.com/joao-fontenele/cafe-pos/internal/messaging"
	"github.com/joao-fontenele/cafe-pos/internal/payment"
	"github.com/joao-fontenele/cafe-pos/internal/pricing"
	"github.com/joao-fontenele/cafe-pos/internal/queue"
	"github.com/joao-fontenele/cafe-pos/internal/reconcile"
	"github.com/joao-fontenele/cafe-pos/internal/register"
	"github.com/joao-fontenele/cafe-pos/internal/submission"
	"github.com/joao-fontenele/cafe-pos/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var cfg config.Register
	if err := config.Load(&cfg); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, "register", cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("register", cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	db, err := localdb.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open local database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var broadcaster cart.Broadcaster
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.DisplayTopic, messaging.WithAsync(logger))
		defer func() { _ = producer.Close() }()
		broadcaster = messaging.NewDisplayBroadcaster(producer, cfg.RegisterID)
	}

	pricingCfg := pricing.DefaultConfig()
	pricingCfg.DefaultTaxRate = cfg.DefaultTaxRate
	pricingCfg.StaffCategory = cfg.StaffCategory
	shoppingCart := cart.New(pricing.NewEngine(pricingCfg), broadcaster, logger)

	store := queue.NewStore(db)
	replica := catalog.NewReplica(db)
	catalogClient := catalog.NewClient(cfg.CatalogServiceURL, httpClient, replica, logger)
	if n, err := catalogClient.Refresh(ctx); err != nil {
		logger.Warn("catalog refresh failed, using existing replica", "error", err)
	} else {
		logger.Info("catalog replica loaded", "products", n)
	}

	submitter := submission.NewClient(submission.Config{
		BaseURL:          cfg.OrdersServiceURL,
		FailureThreshold: cfg.BreakerFailures,
		OpenTimeout:      cfg.BreakerOpenFor,
	}, httpClient, logger)

	monitor := connectivity.NewMonitor(submitter, cfg.ProbeInterval, cfg.ProbeTimeout, logger)
	go monitor.Run(ctx)

	allocator := payment.NewAllocator(payment.DefaultTolerance)
	receipts := register.NewReceiptBox(logger)

	pipeline := checkout.NewPipeline(checkout.Config{PINLength: cfg.PINLength}, checkout.Dependencies{
		Cart:         shoppingCart,
		Allocator:    allocator,
		Submitter:    submitter,
		Queue:        store,
		Connectivity: monitor,
		Receipts:     receipts,
		Metrics:      metrics,
		Logger:       logger,
	})

	reconciler := reconcile.New(reconcile.Config{
		BatchSize:     cfg.SyncBatchSize,
		RatePerSecond: cfg.SyncRatePerSecond,
		Burst:         1,
	}, store, submitter, reconcile.NewLogReporter(logger), metrics, logger)

	scheduler := reconcile.NewIntervalScheduler(cfg.SyncInterval, monitor.Restored())
	go scheduler.Run(ctx)
	go reconciler.Run(ctx, scheduler)

	handler := register.NewHandler(register.Dependencies{
		Cart:      shoppingCart,
		Pipeline:  pipeline,
		Allocator: allocator,
		Catalog:   catalogClient,
		Syncer:    reconciler,
		Queue:     store,
		Receipts:  receipts,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	handler.Routes(mux, telemetry.WithHTTPRoute)
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(mux, "register", otelhttp.WithSpanNameFormatter(telemetry.SpanName)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting register", "port", cfg.Port, "register_id", cfg.RegisterID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
