// Package crawler drives the concurrent paginated crawl: a per-partition
// pagination state machine and the worker pool that schedules partitions
// over a bounded priority queue.
package crawler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/metaldb/archive-crawler/pkg/catalog"
	"github.com/metaldb/archive-crawler/pkg/fetch"
	"github.com/metaldb/archive-crawler/pkg/sink"
)

// Prometheus metrics for crawl progress.
var (
	partitionsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_partitions_completed_total",
		Help: "Partitions that exhausted their pages and flushed",
	})

	partitionsAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_partitions_abandoned_total",
		Help: "Partitions abandoned after a fatal response",
	})

	recordsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_records_written_total",
		Help: "Catalogue records flushed to the record sink",
	})

	transientRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_transient_retries_total",
		Help: "Page retries caused by the server overload signal",
	})

	malformedPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_malformed_pages_total",
		Help: "Page responses that failed to parse",
	})

	pageGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_page_gaps_total",
		Help: "Pages skipped after exhausting the malformed retry budget",
	})
)

// PageFetcher is what the partition crawler needs from the network
// layer. *fetch.Fetcher satisfies it; tests script it.
type PageFetcher interface {
	FetchPage(ctx context.Context, key catalog.PartitionKey, target string) fetch.Outcome
}

// Retry policy for one partition.
const (
	// DefaultCooldown is how long to wait after a server overload
	// signal before retrying the same offset.
	DefaultCooldown = 10 * time.Second

	// DefaultRetryBudget is how many malformed responses are tolerated
	// for one offset before the crawl advances past it.
	DefaultRetryBudget = 3
)

// partitionState tracks one partition's crawl through the
// fetching -> accumulating -> exhausted | abandoned lifecycle.
// It is owned by exactly one worker and never shared.
type partitionState struct {
	key             catalog.PartitionKey
	offset          int
	totalRecords    int // -1 until the first successful page
	malformedStreak int
	records         []catalog.Record
	parseErrors     []catalog.ErrorEntry
}

// Result summarizes one finished partition crawl.
type Result struct {
	Key         catalog.PartitionKey
	Records     int
	ParseErrors int
	Abandoned   bool
}

// partitionCrawler runs the sequential pagination loop for single
// partitions. Pagination within a partition is strictly ordered, so all
// concurrency lives across partitions; the crawler itself needs no
// locking.
type partitionCrawler struct {
	fetcher     PageFetcher
	recordSink  sink.RecordSink
	errorSink   sink.ErrorSink
	progress    *sink.SeqLogger
	logger      zerolog.Logger
	baseURL     string
	pageSize    int
	cooldown    time.Duration
	retryBudget int

	// sleep is replaced in tests to bound the uncapped transient loop.
	sleep func(ctx context.Context, d time.Duration) error
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run crawls one partition to a terminal state and flushes its sinks
// exactly once.
func (c *partitionCrawler) Run(ctx context.Context, key catalog.PartitionKey) Result {
	state := &partitionState{
		key:          key,
		totalRecords: -1,
	}

	abandoned := c.paginate(ctx, state)
	c.flush(state, abandoned)

	return Result{
		Key:         key,
		Records:     len(state.records),
		ParseErrors: len(state.parseErrors),
		Abandoned:   abandoned,
	}
}

// paginate advances the state machine until the partition is exhausted
// (returns false) or abandoned (returns true).
func (c *partitionCrawler) paginate(ctx context.Context, state *partitionState) bool {
	for {
		// A requested stop takes effect between pages; the fetch itself
		// always runs to completion once started.
		if ctx.Err() != nil {
			c.progress.Messagef("%s interrupted, stopping before the next page", state.key)
			return true
		}

		target := catalog.BuildEndpointAt(c.baseURL, state.key, state.offset, c.pageSize)
		outcome := c.fetcher.FetchPage(ctx, state.key, target)

		switch outcome.Kind {
		case fetch.KindSuccess:
			state.records = append(state.records, outcome.Page.Records...)
			if state.totalRecords < 0 {
				state.totalRecords = outcome.Page.TotalRecords
			}
			state.offset += c.pageSize
			state.malformedStreak = 0
			if state.offset > state.totalRecords {
				return false
			}

		case fetch.KindTransient:
			// Overload is never charged against the failure budget;
			// the cooldown is the only bound on this path.
			transientRetriesTotal.Inc()
			if err := c.sleep(ctx, c.cooldown); err != nil {
				c.progress.Messagef("%s interrupted during cooldown", state.key)
				return true
			}

		case fetch.KindMalformed:
			malformedPagesTotal.Inc()
			state.parseErrors = append(state.parseErrors,
				catalog.NewErrorEntry(state.key, target, outcome.StatusCode, outcome.Body))
			state.malformedStreak++
			if state.malformedStreak < c.retryBudget {
				continue
			}

			// Budget spent on this offset: trade a logged data gap for
			// forward progress instead of looping on one broken page.
			pageGapsTotal.Inc()
			c.progress.Messagef("%s failed to download records %d - %d",
				state.key, state.offset, state.offset+c.pageSize)
			if state.totalRecords < 0 {
				state.totalRecords = state.offset
			}
			state.offset += c.pageSize
			state.malformedStreak = 0
			if state.offset > state.totalRecords {
				return false
			}

		case fetch.KindFatal:
			c.logger.Error().
				Str("partition", string(state.key)).
				Int("status", outcome.StatusCode).
				Int("offset", state.offset).
				Msg("Fatal response, abandoning partition")
			return true
		}
	}
}

// flush writes the accumulated output exactly once and emits the
// partition summary line.
func (c *partitionCrawler) flush(state *partitionState, abandoned bool) {
	if err := c.recordSink.Write(state.records); err != nil {
		c.logger.Error().Err(err).Str("partition", string(state.key)).
			Msg("Record sink write failed")
	}
	if err := c.errorSink.Write(state.parseErrors); err != nil {
		c.logger.Error().Err(err).Str("partition", string(state.key)).
			Msg("Error sink write failed")
	}

	if abandoned {
		c.progress.Messagef("%s failed to download", state.key)
		return
	}
	c.progress.Messagef("%s complete (%d records)", state.key, len(state.records))
}
