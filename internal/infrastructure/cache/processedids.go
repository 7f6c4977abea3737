package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bowatch/bowatch/internal/shared/logger"
)

const processedKeyPrefix = "processed:"

// MemoryIDSet is a bounded processed-id set. Once capacity is reached the
// least recently seen id is forgotten.
type MemoryIDSet struct {
	cache *lru.Cache[string, struct{}]
}

func NewMemoryIDSet(capacity int) (*MemoryIDSet, error) {
	c, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("create processed-id lru: %w", err)
	}
	return &MemoryIDSet{cache: c}, nil
}

// MarkIfNew reports true the first time id is seen.
func (s *MemoryIDSet) MarkIfNew(_ context.Context, id string) (bool, error) {
	seen, _ := s.cache.ContainsOrAdd(id, struct{}{})
	return !seen, nil
}

func (s *MemoryIDSet) Len() int {
	return s.cache.Len()
}

// RedisIDSet keeps processed ids in Redis with a TTL so restarts do not
// replay alerts. A local LRU answers repeats without a round trip and takes
// over while Redis is unreachable.
type RedisIDSet struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	local  *MemoryIDSet
	logger logger.Interface
}

// NewRedisIDSet builds a set whose keys are {prefix}:processed:{channel}:{id}.
func NewRedisIDSet(client *redis.Client, prefix, channel string, ttl time.Duration, local *MemoryIDSet, log logger.Interface) *RedisIDSet {
	if prefix != "" {
		prefix += ":"
	}
	return &RedisIDSet{
		client: client,
		prefix: prefix + processedKeyPrefix + channel + ":",
		ttl:    ttl,
		local:  local,
		logger: log,
	}
}

func (s *RedisIDSet) buildKey(id string) string {
	return s.prefix + id
}

// MarkIfNew uses SET NX so concurrent instances agree on who alerts.
func (s *RedisIDSet) MarkIfNew(ctx context.Context, id string) (bool, error) {
	if s.local.cache.Contains(id) {
		return false, nil
	}

	acquired, err := s.client.SetNX(ctx, s.buildKey(id), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		s.logger.Warnw("redis processed-id check failed, using local set", "id", id, "error", err)
		return s.local.MarkIfNew(ctx, id)
	}

	s.local.cache.Add(id, struct{}{})
	return acquired, nil
}
