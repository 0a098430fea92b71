package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Clark-Hu/post-score/internal/aggregation"
	"github.com/Clark-Hu/post-score/internal/logging"
	"github.com/Clark-Hu/post-score/internal/repository"
	"github.com/Clark-Hu/post-score/internal/store"
)

func main() {
	_ = godotenv.Load()

	var (
		dbURL   = flag.String("db", os.Getenv("DB_URL"), "Postgres connection string")
		id      = flag.Int64("id", 0, "recompute a single aggregate by id")
		all     = flag.Bool("all", false, "recompute every dirty aggregate in one statement")
		dryRun  = flag.Bool("dry-run", false, "list dirty aggregate ids without recomputing")
		timeout = flag.Duration("timeout", time.Minute, "overall deadline")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(level, "text")

	if *dbURL == "" {
		fmt.Fprintln(os.Stderr, "recompute: -db or DB_URL is required")
		os.Exit(2)
	}
	if *id == 0 && !*all && !*dryRun {
		fmt.Fprintln(os.Stderr, "recompute: one of -id, -all or -dry-run is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	st, err := store.New(ctx, *dbURL, store.Options{ApplicationName: "post-score-recompute", MaxConns: 2, Logger: logger})
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	repo := repository.New(st)

	switch {
	case *dryRun:
		ids, err := repo.Aggregates.ListDirty(ctx)
		if err != nil {
			logger.Error("list dirty aggregates", "error", err)
			os.Exit(1)
		}
		for _, dirtyID := range ids {
			fmt.Println(dirtyID)
		}
		logger.Info("dirty aggregates", "count", len(ids))
	case *id != 0:
		agg, err := aggregation.NewAggregator(repo.Aggregates, nil, nil, logger).Recompute(ctx, *id)
		if err != nil {
			logger.Error("recompute", "aggregate_id", *id, "error", err)
			os.Exit(1)
		}
		fmt.Printf("aggregate %d post=%s day=%s count=%d total=%d average=%.1f dirty=%t\n",
			agg.ID, agg.PostID, agg.Day.Format("2006-01-02"), agg.Count, agg.Total, agg.Average, agg.Dirty)
	case *all:
		n, err := repo.Aggregates.RecomputeAllDirty(ctx)
		if err != nil {
			logger.Error("bulk recompute", "error", err)
			os.Exit(1)
		}
		fmt.Printf("recomputed %d aggregates\n", n)
	}
}
