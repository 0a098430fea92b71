package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/post-score/internal/aggregation"
	"github.com/Clark-Hu/post-score/internal/cache"
	"github.com/Clark-Hu/post-score/internal/config"
	httpserver "github.com/Clark-Hu/post-score/internal/http"
	"github.com/Clark-Hu/post-score/internal/logging"
	"github.com/Clark-Hu/post-score/internal/metrics"
	"github.com/Clark-Hu/post-score/internal/repository"
	"github.com/Clark-Hu/post-score/internal/score"
	"github.com/Clark-Hu/post-score/internal/store"
)

const cacheEvictionInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	clock := clockwork.NewRealClock()

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := store.New(dbCtx, cfg.DBURL, store.Options{
		ApplicationName:        "post-score",
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	metrics.RegisterPoolStats(reg, st.Stats)

	scoreCache, closeCache := newScoreCache(ctx, cfg, clock, logger)
	defer closeCache()

	repo := repository.New(st)
	scores := score.NewService(repo.Ratings, repo.Aggregates, scoreCache, score.Options{
		SlopeThreshold: cfg.SlopeThreshold,
		CacheTTL:       cfg.ScoreCacheTTL(),
		Location:       cfg.Location(),
		Clock:          clock,
		Metrics:        m,
		Logger:         logger,
	})

	aggregator := aggregation.NewAggregator(repo.Aggregates, clock, m, logger)
	pool := aggregation.NewPool(aggregator.Job, aggregation.PoolOptions{
		Workers:    cfg.AggregationWorkers,
		QueueSize:  cfg.AggregationQueueSize,
		JobTimeout: cfg.AggregationJobTimeout(),
		Metrics:    m,
		Logger:     logger,
	})
	scheduler := aggregation.NewScheduler(repo.Aggregates, pool, aggregation.SchedulerOptions{
		Interval: cfg.SchedulerInterval(),
		Clock:    clock,
		Metrics:  m,
		Logger:   logger,
	})

	server := httpserver.New(cfg, st, scheduler, scores, metrics.Handler(reg), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	logger.Info("post score service started", "port", cfg.Port, "slope_threshold", cfg.SlopeThreshold)
	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("graceful shutdown error", "error", err)
	}
	pool.Close()
	logger.Info("post score service stopped")
}

// newScoreCache picks Redis when REDIS_URL is set and the in-process cache otherwise.
func newScoreCache(ctx context.Context, cfg config.Config, clock clockwork.Clock, logger *slog.Logger) (score.Cache, func()) {
	if cfg.RedisURL == "" {
		mem := cache.NewMemory(clock)
		stopEviction := mem.StartEvictionTimer(cacheEvictionInterval, logger)
		logger.Info("score cache: in-memory")
		return mem, stopEviction
	}

	rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	logger.Info("score cache: redis")
	return cache.NewRedis(rdb, cache.RedisOptions{Logger: logger}), func() { _ = rdb.Close() }
}
