package connectivity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor tracks whether the order service is reachable. It starts out
// optimistic; the first probe corrects it.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	online   atomic.Bool
	restored chan struct{}
}

func NewMonitor(prober Prober, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	m := &Monitor{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		restored: make(chan struct{}, 1),
	}
	m.online.Store(true)
	return m
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Restored receives a value on every offline to online transition. Pending
// notifications are coalesced.
func (m *Monitor) Restored() <-chan struct{} {
	return m.restored
}

// Check probes once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Ping(ctx)
	m.set(err == nil)
	if err != nil {
		m.logger.Debug("connectivity probe failed", "error", err)
	}
	return err == nil
}

// MarkOffline records a failure observed outside the probe loop, such as a
// submission that could not reach the server.
func (m *Monitor) MarkOffline() {
	m.set(false)
}

func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) set(online bool) {
	was := m.online.Swap(online)
	if was == online {
		return
	}

	if online {
		m.logger.Info("connectivity restored")
		select {
		case m.restored <- struct{}{}:
		default:
		}
		return
	}
	m.logger.Warn("connectivity lost")
}
