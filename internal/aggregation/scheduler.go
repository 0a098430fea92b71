package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Clark-Hu/post-score/internal/metrics"
)

const defaultInterval = 30 * time.Second

// DirtyLister enumerates buckets awaiting recomputation.
type DirtyLister interface {
	ListDirty(ctx context.Context) ([]int64, error)
}

// Dispatcher accepts bucket ids for asynchronous recomputation.
type Dispatcher interface {
	Dispatch(id int64) bool
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Scheduler periodically dispatches every dirty bucket.
type Scheduler struct {
	lister     DirtyLister
	dispatcher Dispatcher
	opts       SchedulerOptions
}

// NewScheduler builds a Scheduler that sweeps lister into dispatcher.
func NewScheduler(lister DirtyLister, dispatcher Dispatcher, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{lister: lister, dispatcher: dispatcher, opts: opts}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.opts.Clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.opts.Logger.Info("aggregation scheduler started", "interval", s.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			s.opts.Logger.Info("aggregation scheduler stopped")
			return
		case <-ticker.Chan():
			if _, err := s.Sweep(ctx); err != nil {
				s.opts.Logger.Error("aggregation sweep failed", "error", err)
			}
		}
	}
}

// Sweep dispatches every dirty bucket and returns how many were newly
// dispatched. Buckets already queued or running are not counted.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	logger := s.opts.Logger.With("sweep_id", uuid.NewString())

	ids, err := s.lister.ListDirty(ctx)
	if err != nil {
		return 0, fmt.Errorf("list dirty aggregates: %w", err)
	}
	s.opts.Metrics.DirtyBuckets.Set(float64(len(ids)))

	dispatched := 0
	for _, id := range ids {
		if s.dispatcher.Dispatch(id) {
			dispatched++
		}
	}

	if len(ids) > 0 {
		logger.DebugContext(ctx, "aggregation sweep", "dirty", len(ids), "dispatched", dispatched)
	}
	return dispatched, nil
}
