package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metaldb/archive-crawler/pkg/catalog"
)

// DefaultKeyPrefix namespaces crawl status keys in Redis.
const DefaultKeyPrefix = "archive:crawl:partition:"

// RedisStore keeps partition status in Redis as JSON payloads under a
// key prefix, expiring after the configured TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed Store. A zero ttl means the
// keys never expire.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Set writes the status record to Redis.
func (s *RedisStore) Set(ctx context.Context, status PartitionStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal partition status: %w", err)
	}
	key := s.prefix + string(status.Key)
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store partition status in redis: %w", err)
	}
	return nil
}

// Get reads the status record for a partition from Redis.
func (s *RedisStore) Get(ctx context.Context, key catalog.PartitionKey) (PartitionStatus, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+string(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PartitionStatus{}, false, nil
		}
		return PartitionStatus{}, false, fmt.Errorf("get partition status from redis: %w", err)
	}

	var status PartitionStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return PartitionStatus{}, false, fmt.Errorf("parse partition status: %w", err)
	}
	return status, true, nil
}
