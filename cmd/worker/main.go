package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/cafe-pos/internal/config"
	"github.com/joao-fontenele/cafe-pos/internal/messaging"
	"github.com/joao-fontenele/cafe-pos/internal/telemetry"
	"github.com/joao-fontenele/cafe-pos/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var cfg config.Worker
	if err := config.Load(&cfg); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, "stock-worker", cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	consumerOpts := []messaging.ConsumerOption{messaging.WithEventType(messaging.EventOrderCreated)}
	if cfg.SkipFailed {
		consumerOpts = append(consumerOpts, messaging.WithSkipFailed(logger))
	}
	consumer := messaging.NewConsumer(cfg.KafkaBrokers, messaging.TopicOrderCreated, cfg.ConsumerGroup, consumerOpts...)
	defer func() { _ = consumer.Close() }()

	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	stockHandler := worker.NewStockHandler(cfg.InventoryServiceURL, httpClient, logger)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting stock worker", "brokers", cfg.KafkaBrokers, "group", cfg.ConsumerGroup)

	if err := consumer.Consume(ctx, stockHandler.Handle); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
