package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port              string
	AuthToken         string
	DBURL             string
	RedisURL          string
	LogLevel          string
	LogFormat         string
	ReadTimeoutSecs   int
	WriteTimeoutSecs  int
	IdleTimeoutSecs   int
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int

	SlopeThreshold         float64
	ScoreCacheTTLSecs      int
	SchedulerIntervalSecs  int
	AggregationWorkers     int
	AggregationQueueSize   int
	AggregationJobTimeSecs int
	Timezone               string
}

// Load reads configuration from environment variables, applying defaults and validation.
// A .env file in the working directory is loaded first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AuthToken:              os.Getenv("AUTH_TOKEN"),
		DBURL:                  os.Getenv("DB_URL"),
		RedisURL:               os.Getenv("REDIS_URL"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "text"),
		ReadTimeoutSecs:        getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:       getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:        getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBMaxConns:             getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:             getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:          getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:          getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs:      getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:       getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
		SlopeThreshold:         getEnvFloat("SLOPE_THRESHOLD", 1.0),
		ScoreCacheTTLSecs:      getEnvInt("SCORE_CACHE_TTL_SECS", 10),
		SchedulerIntervalSecs:  getEnvInt("SCHEDULER_INTERVAL_SECS", 30),
		AggregationWorkers:     getEnvInt("AGGREGATION_WORKERS", 4),
		AggregationQueueSize:   getEnvInt("AGGREGATION_QUEUE_SIZE", 256),
		AggregationJobTimeSecs: getEnvInt("AGGREGATION_JOB_TIMEOUT_SECS", 10),
		Timezone:               getEnv("SCORE_TIMEZONE", "UTC"),
	}

	if cfg.AuthToken == "" {
		return Config{}, fmt.Errorf("AUTH_TOKEN is required")
	}
	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if math.IsNaN(cfg.SlopeThreshold) || math.IsInf(cfg.SlopeThreshold, 0) {
		return Config{}, fmt.Errorf("SLOPE_THRESHOLD must be a finite number")
	}
	if cfg.SlopeThreshold < 0 {
		return Config{}, fmt.Errorf("SLOPE_THRESHOLD must be non-negative")
	}
	if cfg.ScoreCacheTTLSecs <= 0 {
		return Config{}, fmt.Errorf("SCORE_CACHE_TTL_SECS must be positive")
	}
	if cfg.SchedulerIntervalSecs <= 0 {
		return Config{}, fmt.Errorf("SCHEDULER_INTERVAL_SECS must be positive")
	}
	if cfg.AggregationWorkers <= 0 {
		return Config{}, fmt.Errorf("AGGREGATION_WORKERS must be positive")
	}
	if cfg.AggregationQueueSize <= 0 {
		return Config{}, fmt.Errorf("AGGREGATION_QUEUE_SIZE must be positive")
	}
	if cfg.AggregationJobTimeSecs <= 0 {
		return Config{}, fmt.Errorf("AGGREGATION_JOB_TIMEOUT_SECS must be positive")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("SCORE_TIMEZONE is invalid: %w", err)
	}

	return cfg, nil
}

// Location returns the time zone that defines calendar days for buckets.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ScoreCacheTTL is the expiry applied to cached scores.
func (c Config) ScoreCacheTTL() time.Duration {
	return time.Duration(c.ScoreCacheTTLSecs) * time.Second
}

// SchedulerInterval is the period between dirty-bucket sweeps.
func (c Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSecs) * time.Second
}

// AggregationJobTimeout bounds a single recompute.
func (c Config) AggregationJobTimeout() time.Duration {
	return time.Duration(c.AggregationJobTimeSecs) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
