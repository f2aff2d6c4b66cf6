package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metaldb/archive-crawler/pkg/catalog"
	"github.com/metaldb/archive-crawler/pkg/queue"
	"github.com/metaldb/archive-crawler/pkg/sink"
	"github.com/metaldb/archive-crawler/pkg/status"
)

// ErrSchedulerFault is returned when the pool cannot deliver its
// shutdown sentinels. It is the only failure escalated out of Crawl.
var ErrSchedulerFault = errors.New("scheduler fault: shutdown sentinel not delivered")

// PriorityFn maps a partition key to its scheduling priority. Lower
// values are served first. The cost-estimation strategy is deliberately
// a policy knob: enumeration order works, a page-count estimate lets
// the pool front-load expensive partitions.
type PriorityFn func(key catalog.PartitionKey) int

// Options configures a crawl run.
type Options struct {
	// Workers is the number of concurrent partition crawls.
	Workers int

	// BaseURL overrides the live site, e.g. for a mirror or a test
	// server.
	BaseURL string

	// PageSize is the pagination window requested per page.
	PageSize int

	// Cooldown after a server overload signal.
	Cooldown time.Duration

	// RetryBudget is the malformed-response tolerance per offset.
	RetryBudget int

	// Priority computes job priorities; nil means enumeration order.
	Priority PriorityFn

	// Verbose enables the sequenced progress log.
	Verbose bool

	// StatusStore, when set, receives per-partition progress updates.
	// Store failures are logged and never fail the crawl.
	StatusStore status.Store

	// SentinelTimeout bounds each shutdown sentinel delivery.
	SentinelTimeout time.Duration

	// QueueCapacity bounds the job queue; zero means twice the worker
	// count, enough to keep workers fed while the driver backpressures.
	QueueCapacity int
}

// DefaultOptions returns a safe crawl configuration.
func DefaultOptions() Options {
	return Options{
		Workers:         8,
		PageSize:        catalog.DefaultPageSize,
		Cooldown:        DefaultCooldown,
		RetryBudget:     DefaultRetryBudget,
		SentinelTimeout: 30 * time.Second,
	}
}

// Summary is what a finished crawl reports back.
type Summary struct {
	RecordsWritten       int
	PartitionsAbandoned  int
	PartitionsCompleted  int
	ParseErrorsRecorded  int
	PartitionsNotStarted int
}

// Pool owns the worker loops and the bounded priority queue.
type Pool struct {
	fetcher    PageFetcher
	recordSink sink.RecordSink
	errorSink  sink.ErrorSink
	opts       Options
	progress   *sink.SeqLogger

	mu      sync.Mutex
	summary Summary
}

// New creates a pool. Zero option fields fall back to DefaultOptions.
func New(fetcher PageFetcher, recordSink sink.RecordSink, errorSink sink.ErrorSink, opts Options) *Pool {
	defaults := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.BaseURL == "" {
		opts.BaseURL = catalog.BaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaults.PageSize
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaults.Cooldown
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = defaults.RetryBudget
	}
	if opts.SentinelTimeout <= 0 {
		opts.SentinelTimeout = defaults.SentinelTimeout
	}

	progress := sink.NewSeqLogger(log.With().Str("component", "crawler").Logger())
	if !opts.Verbose {
		progress.Disable()
	}

	return &Pool{
		fetcher:    fetcher,
		recordSink: recordSink,
		errorSink:  errorSink,
		opts:       opts,
		progress:   progress,
	}
}

// Crawl runs the whole partition space to completion and returns the
// aggregate summary. A single abandoned partition never stops the pool;
// Crawl returns an error only for a scheduler fault during shutdown.
func (p *Pool) Crawl(ctx context.Context, keys []catalog.PartitionKey) (Summary, error) {
	p.progress.Message("beginning download")

	// Bounded capacity keeps the driver from racing ahead of slow
	// workers; sentinels always fit once the queue has drained.
	capacity := p.opts.QueueCapacity
	if capacity <= 0 {
		capacity = 2 * p.opts.Workers
	}
	q := queue.New(capacity)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go p.worker(ctx, q, &wg)
	}

	cancelled := false
	for i, key := range keys {
		priority := i
		if p.opts.Priority != nil {
			priority = p.opts.Priority(key)
		}
		p.setStatus(key, status.StatePending, Result{})
		if err := q.Push(ctx, queue.Work(priority, key)); err != nil {
			p.progress.Message("interrupt detected, no further partitions will be scheduled")
			p.addNotStarted(len(keys) - i)
			cancelled = true
			break
		}
	}

	if !cancelled {
		cancelled = !p.joinOrCancel(ctx, q)
	}

	if cancelled {
		// Drop unstarted work first so the sentinels have room and no
		// new partition is picked up during shutdown.
		if dropped := q.DrainPending(); dropped > 0 {
			p.addNotStarted(dropped)
		}
	}

	p.progress.Message("sending stop signal to workers")
	var fault error
	for i := 0; i < p.opts.Workers; i++ {
		if err := q.PushTimeout(p.opts.SentinelTimeout, queue.Stop()); err != nil {
			fault = fmt.Errorf("%w: %v", ErrSchedulerFault, err)
			// Keep trying the remaining workers; a partial shutdown is
			// still better than none.
		}
	}

	if fault == nil {
		wg.Wait()
	}

	p.mu.Lock()
	summary := p.summary
	p.mu.Unlock()

	p.progress.Messagef("download finished (%d records, %d partitions abandoned)",
		summary.RecordsWritten, summary.PartitionsAbandoned)
	return summary, fault
}

// joinOrCancel waits for the queue to drain, or returns false as soon
// as the context is cancelled.
func (p *Pool) joinOrCancel(ctx context.Context, q *queue.Queue) bool {
	joined := make(chan struct{})
	go func() {
		q.Join()
		close(joined)
	}()

	select {
	case <-joined:
		return true
	case <-ctx.Done():
		p.progress.Message("interrupt detected while draining queue")
		return false
	}
}

// worker loops dequeue -> crawl partition -> repeat until it receives a
// stop sentinel. In-flight partitions always run to their terminal
// state; cancellation is handled inside the pagination loop.
func (p *Pool) worker(ctx context.Context, q *queue.Queue, wg *sync.WaitGroup) {
	defer wg.Done()

	crawler := &partitionCrawler{
		fetcher:     p.fetcher,
		recordSink:  p.recordSink,
		errorSink:   p.errorSink,
		progress:    p.progress,
		logger:      log.With().Str("component", "crawler").Logger(),
		baseURL:     p.opts.BaseURL,
		pageSize:    p.opts.PageSize,
		cooldown:    p.opts.Cooldown,
		retryBudget: p.opts.RetryBudget,
		sleep:       sleepCtx,
	}

	for {
		job := q.Pop()
		if job.Kind == queue.KindStop {
			q.TaskDone()
			return
		}

		p.setStatus(job.Key, status.StateRunning, Result{})
		result := crawler.Run(ctx, job.Key)
		p.record(result)
		q.TaskDone()
	}
}

// record folds one partition result into the run summary and metrics.
func (p *Pool) record(result Result) {
	p.mu.Lock()
	p.summary.RecordsWritten += result.Records
	p.summary.ParseErrorsRecorded += result.ParseErrors
	if result.Abandoned {
		p.summary.PartitionsAbandoned++
	} else {
		p.summary.PartitionsCompleted++
	}
	p.mu.Unlock()

	recordsWrittenTotal.Add(float64(result.Records))
	if result.Abandoned {
		partitionsAbandonedTotal.Inc()
		p.setStatus(result.Key, status.StateAbandoned, result)
		return
	}
	partitionsCompletedTotal.Inc()
	p.setStatus(result.Key, status.StateCompleted, result)
}

func (p *Pool) addNotStarted(n int) {
	p.mu.Lock()
	p.summary.PartitionsNotStarted += n
	p.mu.Unlock()
}

// setStatus reports partition progress to the optional status store.
func (p *Pool) setStatus(key catalog.PartitionKey, state status.State, result Result) {
	if p.opts.StatusStore == nil {
		return
	}

	// Status writes are advisory; never let them block shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.opts.StatusStore.Set(ctx, status.PartitionStatus{
		Key:       key,
		State:     state,
		Records:   result.Records,
		Errors:    result.ParseErrors,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("partition", string(key)).Msg("Status store update failed")
	}
}
