// Command archive-crawl downloads the whole band catalogue into a CSV
// file, crawling every letter partition concurrently.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/metaldb/archive-crawler/pkg/catalog"
	"github.com/metaldb/archive-crawler/pkg/crawler"
	"github.com/metaldb/archive-crawler/pkg/fetch"
	"github.com/metaldb/archive-crawler/pkg/logging"
	"github.com/metaldb/archive-crawler/pkg/sink"
	"github.com/metaldb/archive-crawler/pkg/status"
)

// config is assembled from environment variables.
type config struct {
	Workers     int
	PageSize    int
	RecordPath  string
	ErrorPath   string
	UserAgent   string
	BaseURL     string
	RedisURL    string
	MetricsAddr string
	LogLevel    string
	Verbose     bool
}

func loadConfig() config {
	return config{
		Workers:     getEnvInt("WORKERS", runtime.NumCPU()),
		PageSize:    getEnvInt("PAGE_SIZE", catalog.DefaultPageSize),
		RecordPath:  getEnv("RECORDS_FILE", "bands.csv"),
		ErrorPath:   getEnv("ERRORS_FILE", "crawl_errors.csv"),
		UserAgent:   getEnv("USER_AGENT", "archive-crawler/1.0"),
		BaseURL:     getEnv("BASE_URL", catalog.BaseURL),
		RedisURL:    getEnv("REDIS_URL", ""),
		MetricsAddr: getEnv("METRICS_ADDR", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Verbose:     getEnvBool("VERBOSE", true),
	}
}

func main() {
	cfg := loadConfig()

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: getEnvBool("LOG_PRETTY", false),
		Output: os.Stderr,
	})

	records, err := sink.NewCSVRecordSink(cfg.RecordPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record sink")
	}
	defer records.Close()

	errs, err := sink.NewCSVErrorSink(cfg.ErrorPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open error sink")
	}
	defer errs.Close()

	opts := crawler.Options{
		Workers:  cfg.Workers,
		BaseURL:  cfg.BaseURL,
		PageSize: cfg.PageSize,
		Verbose:  cfg.Verbose,
	}

	// Optional Redis-backed progress store, so a long crawl can be
	// watched from outside the process.
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer redisClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatal().Err(err).Str("redis_url", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		cancel()

		opts.StatusStore = status.NewRedisStore(redisClient, "", 24*time.Hour)
		log.Info().Str("redis_url", cfg.RedisURL).Msg("Partition status will be tracked in Redis")
	}

	// Optional Prometheus endpoint for the duration of the run.
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := fetch.New(nil, fetch.Config{UserAgent: cfg.UserAgent})
	pool := crawler.New(fetcher, records, errs, opts)

	log.Info().
		Int("workers", cfg.Workers).
		Int("page_size", cfg.PageSize).
		Str("records_file", cfg.RecordPath).
		Msg("Starting catalogue crawl")

	summary, err := pool.Crawl(ctx, catalog.DefaultAlphabet())
	if err != nil {
		log.Fatal().Err(err).Msg("Crawl failed to shut down cleanly")
	}

	log.Info().
		Int("records", summary.RecordsWritten).
		Int("completed", summary.PartitionsCompleted).
		Int("abandoned", summary.PartitionsAbandoned).
		Int("not_started", summary.PartitionsNotStarted).
		Int("parse_errors", summary.ParseErrorsRecorded).
		Msg("Crawl finished")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring non-integer environment value")
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring non-boolean environment value")
		return defaultValue
	}
	return b
}
