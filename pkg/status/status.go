// Package status persists per-partition crawl progress so a long run
// can be observed from outside the process. Store failures are advisory
// and must never fail the crawl itself.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/metaldb/archive-crawler/pkg/catalog"
)

// State is the lifecycle state of one partition crawl.
type State string

const (
	// StatePending means the partition is enqueued but not started.
	StatePending State = "pending"

	// StateRunning means a worker is crawling the partition.
	StateRunning State = "running"

	// StateCompleted means the partition exhausted its pages and
	// flushed its records.
	StateCompleted State = "completed"

	// StateAbandoned means the partition hit a fatal response and was
	// given up.
	StateAbandoned State = "abandoned"
)

// PartitionStatus is one progress record.
type PartitionStatus struct {
	Key       catalog.PartitionKey `json:"key"`
	State     State                `json:"state"`
	Records   int                  `json:"records"`
	Errors    int                  `json:"errors"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Store persists partition crawl status.
type Store interface {
	Set(ctx context.Context, status PartitionStatus) error
	Get(ctx context.Context, key catalog.PartitionKey) (PartitionStatus, bool, error)
}

// MemoryStore is an in-process Store, used when no Redis is configured
// and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[catalog.PartitionKey]PartitionStatus
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses: make(map[catalog.PartitionKey]PartitionStatus),
	}
}

// Set stores the status record.
func (s *MemoryStore) Set(_ context.Context, status PartitionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.Key] = status
	return nil
}

// Get reads the status record for a partition.
func (s *MemoryStore) Get(_ context.Context, key catalog.PartitionKey) (PartitionStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[key]
	return status, ok, nil
}

// Snapshot returns a copy of every stored status.
func (s *MemoryStore) Snapshot() map[catalog.PartitionKey]PartitionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[catalog.PartitionKey]PartitionStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}
