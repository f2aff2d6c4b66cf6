// Package queue implements the bounded concurrent priority queue that
// schedules partition crawl jobs across the worker pool. Lower priority
// values dequeue first; ties dequeue in insertion order. The queue
// carries an unfinished-task count so a driver can wait for full drain
// before delivering shutdown sentinels.
package queue

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"time"

	"github.com/metaldb/archive-crawler/pkg/catalog"
)

// Kind discriminates real crawl work from the shutdown sentinel, so a
// partition key can never collide with the stop signal.
type Kind int

const (
	// KindWork is a partition crawl job.
	KindWork Kind = iota

	// KindStop tells a worker to exit its loop.
	KindStop
)

// Job is one queue entry: either crawl work for a partition or a stop
// sentinel.
type Job struct {
	Kind     Kind
	Key      catalog.PartitionKey
	Priority int

	seq uint64
}

// Work builds a crawl job. Lower priority values are served first.
func Work(priority int, key catalog.PartitionKey) Job {
	return Job{Kind: KindWork, Key: key, Priority: priority}
}

// Stop builds a shutdown sentinel. Sentinels sort ahead of any work so
// a stopping pool winds down promptly.
func Stop() Job {
	return Job{Kind: KindStop, Priority: math.MinInt}
}

type jobHeap []Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	*h = old[:n-1]
	return job
}

// Queue is a bounded blocking min-priority queue.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	allDone  *sync.Cond

	items      jobHeap
	capacity   int
	unfinished int
	nextSeq    uint64
}

// New creates a queue holding at most capacity jobs. Push blocks while
// the queue is full, giving the producer backpressure.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	q.allDone = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a job, blocking while the queue is at capacity. It
// aborts with the context error if ctx is cancelled while waiting.
func (q *Queue) Push(ctx context.Context, job Job) error {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.notFull.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	job.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, job)
	q.unfinished++
	q.notEmpty.Signal()
	return nil
}

// PushTimeout enqueues a job, giving up after the timeout. Used for
// shutdown sentinels, where an indefinitely blocked push would wedge
// the whole run.
func (q *Queue) PushTimeout(timeout time.Duration, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return q.Push(ctx, job)
}

// Pop removes and returns the lowest-priority job, blocking while the
// queue is empty. Workers rely on always receiving a stop sentinel
// rather than on a cancellable pop.
func (q *Queue) Pop() Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.notEmpty.Wait()
	}
	job := heap.Pop(&q.items).(Job)
	q.notFull.Signal()
	return job
}

// TaskDone marks one previously popped job as finished.
func (q *Queue) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished == 0 {
		panic("queue: TaskDone called more times than jobs pushed")
	}
	q.unfinished--
	if q.unfinished == 0 {
		q.allDone.Broadcast()
	}
}

// Join blocks until every pushed job has been popped and marked done.
func (q *Queue) Join() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.unfinished > 0 {
		q.allDone.Wait()
	}
}

// DrainPending removes all queued work jobs without running them,
// marking each as done. Sentinels stay queued so workers still receive
// them. Returns the number of jobs dropped.
func (q *Queue) DrainPending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	dropped := 0
	for _, job := range q.items {
		if job.Kind == KindWork {
			dropped++
			continue
		}
		kept = append(kept, job)
	}
	q.items = kept
	heap.Init(&q.items)

	q.unfinished -= dropped
	if q.unfinished == 0 {
		q.allDone.Broadcast()
	}
	q.notFull.Broadcast()
	return dropped
}

// Len returns the number of jobs currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
