package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider and
// starts Go runtime metrics collection. It returns an http.Handler for the
// /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
		return nil, nil, err
	}

	return promhttp.Handler(), mp.Shutdown, nil
}

// Metrics holds the register's business instruments.
type Metrics struct {
	CheckoutOutcomes otelmetric.Int64Counter
	SubmitDuration   otelmetric.Float64Histogram
	SyncedOrders     otelmetric.Int64Counter
	SyncFailures     otelmetric.Int64Counter
	QueueDepth       otelmetric.Int64Gauge
}

// NewMetrics creates the instruments on the global MeterProvider, so it must
// run after InitMeterProvider. Without a provider the instruments are no-ops.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("cafe-pos")

	outcomes, err := meter.Int64Counter("pos.checkout.outcomes",
		otelmetric.WithDescription("Finished checkouts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("pos.submit.duration",
		otelmetric.WithDescription("Order submission latency"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	synced, err := meter.Int64Counter("pos.sync.synced",
		otelmetric.WithDescription("Queued orders acknowledged by the server"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("pos.sync.failures",
		otelmetric.WithDescription("Queued orders that failed a sync attempt"),
	)
	if err != nil {
		return nil, err
	}

	depth, err := meter.Int64Gauge("pos.queue.depth",
		otelmetric.WithDescription("Orders waiting in the offline queue"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		CheckoutOutcomes: outcomes,
		SubmitDuration:   duration,
		SyncedOrders:     synced,
		SyncFailures:     failures,
		QueueDepth:       depth,
	}, nil
}
