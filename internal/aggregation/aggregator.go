// Package aggregation keeps daily buckets consistent with their ratings: a
// Scheduler periodically finds dirty buckets and hands them to a Pool whose
// workers run the Aggregator.
package aggregation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/Clark-Hu/post-score/internal/domain"
	"github.com/Clark-Hu/post-score/internal/metrics"
)

// BucketStore recomputes one bucket from its ratings.
type BucketStore interface {
	Recompute(ctx context.Context, id int64) (domain.DailyAggregate, error)
}

// Aggregator recomputes buckets and records the outcome.
type Aggregator struct {
	store   BucketStore
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAggregator builds an Aggregator; nil clock, metrics or logger get defaults.
func NewAggregator(store BucketStore, clock clockwork.Clock, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, clock: clock, metrics: m, logger: logger}
}

// Recompute rewrites the bucket's total, count and average from its ratings.
// Running it twice yields the same state. The bucket stays dirty when a
// rating changed while it ran.
func (a *Aggregator) Recompute(ctx context.Context, id int64) (domain.DailyAggregate, error) {
	start := a.clock.Now()
	agg, err := a.store.Recompute(ctx, id)
	a.metrics.RecomputeDuration.Observe(a.clock.Since(start).Seconds())
	if err != nil {
		a.metrics.Recomputes.WithLabelValues("error").Inc()
		return domain.DailyAggregate{}, fmt.Errorf("recompute aggregate %d: %w", id, err)
	}

	outcome := "clean"
	if agg.Dirty {
		outcome = "still_dirty"
	}
	a.metrics.Recomputes.WithLabelValues(outcome).Inc()
	a.logger.DebugContext(ctx, "aggregate recomputed",
		"aggregate_id", agg.ID,
		"post_id", agg.PostID,
		"day", agg.Day.Format("2006-01-02"),
		"count", agg.Count,
		"average", agg.Average,
		"outcome", outcome)
	return agg, nil
}

// Job adapts Recompute to the Pool's job signature.
func (a *Aggregator) Job(ctx context.Context, id int64) error {
	_, err := a.Recompute(ctx, id)
	return err
}
