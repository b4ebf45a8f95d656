package reconcile

import (
	"context"
	"time"
)

type Trigger string

const (
	TriggerStartup      Trigger = "startup"
	TriggerInterval     Trigger = "interval"
	TriggerConnectivity Trigger = "connectivity"
	TriggerManual       Trigger = "manual"
)

// Scheduler decides when a reconciliation pass should run.
type Scheduler interface {
	Triggers() <-chan Trigger
}

// IntervalScheduler fires on a fixed interval and whenever connectivity is
// restored. Triggers that arrive while one is still unread are dropped.
type IntervalScheduler struct {
	interval time.Duration
	restored <-chan struct{}
	out      chan Trigger
}

func NewIntervalScheduler(interval time.Duration, restored <-chan struct{}) *IntervalScheduler {
	return &IntervalScheduler{
		interval: interval,
		restored: restored,
		out:      make(chan Trigger, 1),
	}
}

func (s *IntervalScheduler) Triggers() <-chan Trigger {
	return s.out
}

// Run emits triggers until ctx is done, starting with one at startup so orders
// queued before a restart are picked up.
func (s *IntervalScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.emit(TriggerStartup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emit(TriggerInterval)
		case <-s.restored:
			s.emit(TriggerConnectivity)
		}
	}
}

func (s *IntervalScheduler) emit(t Trigger) {
	select {
	case s.out <- t:
	default:
	}
}
