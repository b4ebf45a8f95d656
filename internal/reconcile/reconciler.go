package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/submission"
	"github.com/joao-fontenele/cafe-pos/internal/telemetry"
)

var tracer = otel.Tracer("reconcile")

type Store interface {
	ListPending(ctx context.Context, afterSeq int64, limit int) ([]domain.PendingOrder, error)
	MarkFailed(ctx context.Context, key, message string) error
	Acknowledge(ctx context.Context, key, remoteOrderID string) error
	Remove(ctx context.Context, key string) error
	PurgeSynced(ctx context.Context) (int64, error)
	CountPending(ctx context.Context) (int, error)
}

type Submitter interface {
	Submit(ctx context.Context, payload domain.OrderPayload) (submission.Result, error)
}

// Reporter receives the outcome of every pass.
type Reporter interface {
	Report(ctx context.Context, summary Summary)
}

type Summary struct {
	Trigger    Trigger   `json:"trigger"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Remaining  int       `json:"remaining"`
	Errors     []string  `json:"errors,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Config struct {
	// BatchSize is how many queued orders are read at a time. A pass pages
	// through the whole queue; zero reads it in one go.
	BatchSize int
	// RatePerSecond paces submissions within a pass.
	RatePerSecond float64
	Burst         int
}

// Reconciler drains the offline queue. Passes never overlap and process
// orders one at a time in queue order. A failed order is recorded and left for
// the next pass.
type Reconciler struct {
	cfg       Config
	store     Store
	submitter Submitter
	reporter  Reporter
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	limiter   *rate.Limiter
	group     singleflight.Group

	mu   sync.Mutex
	last *Summary
}

func New(cfg Config, store Store, submitter Submitter, reporter Reporter, metrics *telemetry.Metrics, logger *slog.Logger) *Reconciler {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Reconciler{
		cfg:       cfg,
		store:     store,
		submitter: submitter,
		reporter:  reporter,
		metrics:   metrics,
		logger:    logger,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Run performs a pass for every trigger until ctx is done.
func (r *Reconciler) Run(ctx context.Context, scheduler Scheduler) {
	for {
		select {
		case <-ctx.Done():
			return
		case trigger := <-scheduler.Triggers():
			if _, err := r.sync(ctx, trigger); err != nil {
				r.logger.Error("sync pass failed", "error", err, "trigger", trigger)
			}
		}
	}
}

// SyncNow runs a pass immediately, or joins the one already running.
func (r *Reconciler) SyncNow(ctx context.Context) (Summary, error) {
	return r.sync(ctx, TriggerManual)
}

func (r *Reconciler) LastSummary() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

func (r *Reconciler) sync(ctx context.Context, trigger Trigger) (Summary, error) {
	v, err, _ := r.group.Do("sync", func() (any, error) {
		return r.pass(ctx, trigger)
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

func (r *Reconciler) pass(ctx context.Context, trigger Trigger) (Summary, error) {
	ctx, span := tracer.Start(ctx, "reconcile.pass")
	defer span.End()
	span.SetAttributes(attribute.String("reconcile.trigger", string(trigger)))

	summary := Summary{Trigger: trigger, StartedAt: time.Now().UTC()}

	purged, err := r.store.PurgeSynced(ctx)
	if err != nil {
		return summary, err
	}
	if purged > 0 {
		r.logger.Info("purged acknowledged orders", "count", purged)
	}

	var cursor int64
pages:
	for {
		pending, err := r.store.ListPending(ctx, cursor, r.cfg.BatchSize)
		if err != nil {
			return summary, err
		}

		for _, order := range pending {
			if err := r.limiter.Wait(ctx); err != nil {
				break pages
			}
			cursor = order.Seq

			if err := r.syncOne(ctx, order); err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, err.Error())
				continue
			}
			summary.Synced++
		}

		if r.cfg.BatchSize <= 0 || len(pending) < r.cfg.BatchSize {
			break
		}
	}

	remaining, err := r.store.CountPending(context.WithoutCancel(ctx))
	if err != nil {
		return summary, err
	}
	summary.Remaining = remaining
	summary.FinishedAt = time.Now().UTC()

	r.record(ctx, summary)
	return summary, nil
}

// syncOne submits a single queued order. On success the acknowledgment is
// persisted before the row is removed; both writes outlive ctx cancellation.
func (r *Reconciler) syncOne(ctx context.Context, order domain.PendingOrder) error {
	logger := r.logger.With("idempotency_key", order.IdempotencyKey)
	persist := context.WithoutCancel(ctx)

	var payload domain.OrderPayload
	if err := json.Unmarshal(order.Payload, &payload); err != nil {
		rerr := &domain.ReconciliationError{Key: order.IdempotencyKey, Err: fmt.Errorf("decode payload: %w", err)}
		r.markFailed(persist, logger, order.IdempotencyKey, rerr)
		return rerr
	}
	if order.OperatorPIN != "" {
		payload.OperatorPIN = order.OperatorPIN
	}

	result, err := r.submitter.Submit(ctx, payload)
	if err != nil {
		rerr := &domain.ReconciliationError{Key: order.IdempotencyKey, Err: err}
		r.markFailed(persist, logger, order.IdempotencyKey, rerr)
		return rerr
	}

	if err := r.store.Acknowledge(persist, order.IdempotencyKey, result.OrderID); err != nil {
		logger.Error("failed to acknowledge synced order", "error", err, "order_id", result.OrderID)
		return &domain.ReconciliationError{Key: order.IdempotencyKey, Err: err}
	}
	if err := r.store.Remove(persist, order.IdempotencyKey); err != nil {
		// The row is SYNCED and will be purged by the next pass.
		logger.Warn("failed to remove synced order", "error", err)
	}

	logger.Info("queued order synced", "order_id", result.OrderID, "replayed", result.Replayed, "attempts", order.Attempts+1)
	return nil
}

func (r *Reconciler) markFailed(ctx context.Context, logger *slog.Logger, key string, rerr *domain.ReconciliationError) {
	logger.Warn("queued order failed to sync", "error", rerr.Err)
	if err := r.store.MarkFailed(ctx, key, rerr.Err.Error()); err != nil {
		logger.Error("failed to record sync failure", "error", err)
	}
}

func (r *Reconciler) record(ctx context.Context, summary Summary) {
	r.mu.Lock()
	r.last = &summary
	r.mu.Unlock()

	if r.metrics != nil {
		attrs := otelmetric.WithAttributes(attribute.String("trigger", string(summary.Trigger)))
		r.metrics.SyncedOrders.Add(ctx, int64(summary.Synced), attrs)
		r.metrics.SyncFailures.Add(ctx, int64(summary.Failed), attrs)
		r.metrics.QueueDepth.Record(ctx, int64(summary.Remaining))
	}

	if r.reporter != nil {
		r.reporter.Report(ctx, summary)
	}
}

// LogReporter writes a short summary line for passes that did something.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (l *LogReporter) Report(_ context.Context, s Summary) {
	if s.Synced == 0 && s.Failed == 0 {
		return
	}
	l.logger.Info(fmt.Sprintf("%d orders synced, %d failed", s.Synced, s.Failed),
		"trigger", s.Trigger,
		"remaining", s.Remaining,
	)
}
