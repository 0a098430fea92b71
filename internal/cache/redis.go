package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RedisOptions tunes the circuit breaker in front of Redis.
type RedisOptions struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// Redis stores scores as plain strings with a server-side expiry. While the
// breaker is open every call fails fast with gobreaker.ErrOpenState.
type Redis struct {
	rdb goredis.Cmdable
	cb  *gobreaker.CircuitBreaker
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedis wraps rdb with a circuit breaker.
func NewRedis(rdb goredis.Cmdable, opts RedisOptions) *Redis {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "score-cache",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, goredis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
		},
	})

	return &Redis{rdb: rdb, cb: cb}
}

// Get returns the cached score for key. A missing key is a miss, not an error.
func (r *Redis) Get(ctx context.Context, key string) (float64, bool, error) {
	res, err := r.cb.Execute(func() (interface{}, error) {
		return r.rdb.Get(ctx, key).Float64()
	})
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return res.(float64), true, nil
}

// Set stores value under key with ttl.
func (r *Redis) Set(ctx context.Context, key string, value float64, ttl time.Duration) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.rdb.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// State reports the breaker state.
func (r *Redis) State() gobreaker.State {
	return r.cb.State()
}
