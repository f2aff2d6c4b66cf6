// Package fetch performs single page requests against the catalogue
// API and classifies each response for the partition crawler.
package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/metaldb/archive-crawler/pkg/catalog"
)

// Prometheus metrics for page fetch operations.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_pages_fetched_total",
		Help: "Total page fetches by outcome class",
	}, []string{"outcome"})

	pageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "archive_page_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})
)

// StatusOverloaded is the transient overload signal served by the site
// when it wants clients to back off for a while.
const StatusOverloaded = 520

// Kind classifies one page fetch.
type Kind int

const (
	// KindSuccess means the response parsed as a record batch.
	KindSuccess Kind = iota

	// KindTransient means the server signalled overload; the same
	// offset should be retried after a cooldown.
	KindTransient

	// KindMalformed means a response arrived but did not parse as the
	// expected structure.
	KindMalformed

	// KindFatal means an unrecognized status with no usable structure,
	// or a transport failure. The partition should be abandoned.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one page fetch. Page is set only
// for KindSuccess; Body carries the raw response for the error kinds.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Body       string
	Page       catalog.Page
}

// Doer executes one HTTP request. *http.Client satisfies it; tests
// substitute scripted implementations.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds fetcher configuration.
type Config struct {
	// UserAgent identifies the crawler to the site.
	UserAgent string

	// Timeout per page request, applied when the default HTTP client
	// is used.
	Timeout time.Duration
}

// DefaultConfig returns a safe default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "archive-crawler/1.0",
		Timeout:   30 * time.Second,
	}
}

// Fetcher performs and classifies page requests. It holds no crawl
// state and is safe for concurrent use.
type Fetcher struct {
	doer   Doer
	config Config
	logger zerolog.Logger
}

// New creates a fetcher. A nil doer gets a default HTTP client with
// the configured timeout.
func New(doer Doer, cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout}
	}

	return &Fetcher{
		doer:   doer,
		config: cfg,
		logger: log.With().Str("component", "fetcher").Logger(),
	}
}

// FetchPage requests one page and classifies the result. It never
// mutates shared state; transport failures surface as KindFatal rather
// than leaking as faults.
//
// The request is detached from crawl cancellation: a requested stop
// lets a page already in flight finish, and the client timeout bounds
// the transfer. Callers decide between pages whether to continue.
func (f *Fetcher) FetchPage(ctx context.Context, key catalog.PartitionKey, target string) Outcome {
	start := time.Now()
	defer func() {
		pageFetchDuration.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, target, nil)
	if err != nil {
		pagesFetchedTotal.WithLabelValues(KindFatal.String()).Inc()
		return Outcome{Kind: KindFatal, Body: err.Error()}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.doer.Do(req)
	if err != nil {
		f.logger.Error().Err(err).Str("partition", string(key)).Str("target", target).
			Msg("Transport failure")
		pagesFetchedTotal.WithLabelValues(KindFatal.String()).Inc()
		return Outcome{Kind: KindFatal, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Error().Err(err).Str("partition", string(key)).Int("status", resp.StatusCode).
			Msg("Failed to read response body")
		pagesFetchedTotal.WithLabelValues(KindFatal.String()).Inc()
		return Outcome{Kind: KindFatal, StatusCode: resp.StatusCode, Body: err.Error()}
	}

	outcome := f.classify(resp.StatusCode, body)
	pagesFetchedTotal.WithLabelValues(outcome.Kind.String()).Inc()

	if outcome.Kind != KindSuccess {
		f.logger.Warn().
			Str("partition", string(key)).
			Int("status", resp.StatusCode).
			Str("class", outcome.Kind.String()).
			Msg("Page fetch did not succeed")
	}
	return outcome
}

// classify maps a status code and body onto an outcome. A forbidden
// response sometimes still carries a valid payload, so every
// non-overload response gets a parse attempt before it is written off.
func (f *Fetcher) classify(statusCode int, body []byte) Outcome {
	if statusCode == StatusOverloaded {
		return Outcome{Kind: KindTransient, StatusCode: statusCode}
	}

	page, err := catalog.ParsePage(body)
	if err == nil {
		return Outcome{Kind: KindSuccess, StatusCode: statusCode, Page: page}
	}

	switch statusCode {
	case http.StatusOK, http.StatusForbidden:
		return Outcome{Kind: KindMalformed, StatusCode: statusCode, Body: string(body)}
	default:
		return Outcome{Kind: KindFatal, StatusCode: statusCode, Body: string(body)}
	}
}
