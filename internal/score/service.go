// Package score is the request-path entry point of the aggregation core:
// rating submission, slope-rule resolution and the cache-aside score read.
package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/Clark-Hu/post-score/internal/domain"
	"github.com/Clark-Hu/post-score/internal/metrics"
	"github.com/Clark-Hu/post-score/internal/repository"
	"github.com/Clark-Hu/post-score/internal/scoring"
)

const defaultCacheTTL = 10 * time.Second

// RatingStore persists ratings and signals their buckets.
type RatingStore interface {
	Submit(ctx context.Context, params repository.RatingSubmitParams) (domain.Rating, bool, error)
	Get(ctx context.Context, postID, raterID string) (domain.Rating, error)
}

// TotalsReader sums a post's buckets around a given day.
type TotalsReader interface {
	Totals(ctx context.Context, postID string, today time.Time) (repository.ScoreTotals, error)
}

// Cache is a short-TTL key/value store for resolved scores.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, value float64, ttl time.Duration) error
}

// Options configures a Service.
type Options struct {
	SlopeThreshold float64
	CacheTTL       time.Duration
	// Location defines calendar days; nil means UTC.
	Location *time.Location
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// SubmitParams is a rating submission. A zero CreatedAt means now.
type SubmitParams struct {
	PostID    string
	RaterID   string
	Value     int
	CreatedAt time.Time
}

// Service implements submit_rating, resolve_score and get_score.
type Service struct {
	ratings RatingStore
	totals  TotalsReader
	cache   Cache
	opts    Options
	group   singleflight.Group
}

// NewService wires a Service. cache may be nil, in which case every read resolves.
func NewService(ratings RatingStore, totals TotalsReader, cache Cache, opts Options) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
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
	return &Service{
		ratings: ratings,
		totals:  totals,
		cache:   cache,
		opts:    opts,
	}
}

// SubmitRating records value as rater's rating of the post and marks the
// owning bucket for recomputation. It reports whether a new rating was created.
// Invalid input fails with a *domain.ValidationError before any write.
func (s *Service) SubmitRating(ctx context.Context, params SubmitParams) (domain.Rating, bool, error) {
	if err := validatePostID(params.PostID); err != nil {
		return domain.Rating{}, false, err
	}
	raterID := strings.TrimSpace(params.RaterID)
	if raterID == "" {
		return domain.Rating{}, false, domain.NewValidationError("rater_id", "is required")
	}
	if err := domain.ValidateRatingValue(params.Value); err != nil {
		return domain.Rating{}, false, err
	}

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.opts.Clock.Now()
	}

	rating, inserted, err := s.ratings.Submit(ctx, repository.RatingSubmitParams{
		PostID:    params.PostID,
		RaterID:   raterID,
		Value:     params.Value,
		CreatedAt: createdAt,
		Day:       s.dayOf(createdAt),
	})
	if err != nil {
		return domain.Rating{}, false, fmt.Errorf("submit rating: %w", err)
	}

	kind := "updated"
	if inserted {
		kind = "created"
	}
	s.opts.Metrics.RatingsSubmitted.WithLabelValues(kind).Inc()
	s.opts.Logger.DebugContext(ctx, "rating submitted",
		"post_id", rating.PostID,
		"rater_id", rating.RaterID,
		"aggregate_id", rating.AggregateID,
		"kind", kind)

	return rating, inserted, nil
}

// RaterRating returns the value rater gave the post, or nil if none.
func (s *Service) RaterRating(ctx context.Context, postID, raterID string) (*int, error) {
	if err := validatePostID(postID); err != nil {
		return nil, err
	}
	rating, err := s.ratings.Get(ctx, postID, strings.TrimSpace(raterID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rater rating: %w", err)
	}
	return &rating.Value, nil
}

// ResolveScore computes the post's score from its buckets without the cache.
func (s *Service) ResolveScore(ctx context.Context, postID string) (scoring.Decision, error) {
	if err := validatePostID(postID); err != nil {
		return scoring.Decision{}, err
	}

	totals, err := s.totals.Totals(ctx, postID, s.today())
	if err != nil {
		return scoring.Decision{}, fmt.Errorf("resolve score: %w", err)
	}

	d := scoring.Resolve(totals.Historical, totals.Today, s.opts.SlopeThreshold)
	path := "merge"
	if !d.Merged {
		path = "discard"
		s.opts.Logger.DebugContext(ctx, "discarding today's ratings",
			"post_id", postID,
			"slope", d.Slope,
			"today_avg", d.TodayAverage,
			"historical_avg", d.HistoricalAverage)
	}
	s.opts.Metrics.Resolutions.WithLabelValues(path).Inc()
	return d, nil
}

// GetScore returns the post's score, served from the cache when a fresh entry
// exists. Writes do not invalidate entries, so a score may lag by one TTL.
// Cache failures are logged and the score is resolved directly.
func (s *Service) GetScore(ctx context.Context, postID string) (float64, error) {
	if err := validatePostID(postID); err != nil {
		return 0, err
	}
	key := cacheKey(postID)

	if s.cache != nil {
		v, hit, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.opts.Metrics.CacheRequests.WithLabelValues("error").Inc()
			s.opts.Logger.WarnContext(ctx, "score cache get failed", "post_id", postID, "error", err)
		case hit:
			s.opts.Metrics.CacheRequests.WithLabelValues("hit").Inc()
			return v, nil
		default:
			s.opts.Metrics.CacheRequests.WithLabelValues("miss").Inc()
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Shared by every waiter on key; one caller going away must not fail the rest.
		ctx := context.WithoutCancel(ctx)
		d, err := s.ResolveScore(ctx, postID)
		if err != nil {
			return 0.0, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, key, d.Score, s.opts.CacheTTL); err != nil {
				s.opts.Metrics.CacheRequests.WithLabelValues("set_error").Inc()
				s.opts.Logger.WarnContext(ctx, "score cache set failed", "post_id", postID, "error", err)
			}
		}
		return d.Score, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (s *Service) today() time.Time {
	return s.dayOf(s.opts.Clock.Now())
}

// dayOf returns the calendar day of t in the service location, as UTC midnight.
func (s *Service) dayOf(t time.Time) time.Time {
	y, m, d := t.In(s.opts.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cacheKey(postID string) string {
	return "post_" + postID + "_score"
}

func validatePostID(postID string) error {
	if _, err := uuid.Parse(postID); err != nil {
		return domain.NewValidationError("post_id", "must be a UUID")
	}
	return nil
}
