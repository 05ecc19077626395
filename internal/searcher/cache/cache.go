// Package cache stores search results in Redis. Keys carry the index epoch
// and generation the result was computed on. A write moves the generation
// forward and a restart or another replica starts a new epoch, so an entry is
// only ever served for the exact index state it describes. Old keys expire.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/redis"
)

const keyPrefix = "search:"

// KV is the subset of the Redis client the cache uses.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	kv      KV
	ttl     time.Duration
	isMiss  func(error) bool
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New builds a cache over a Redis client.
func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	return NewWithKV(client, cfg.CacheTTL, pkgredis.IsNilError, m)
}

// NewWithKV builds a cache over any KV. isMiss identifies the KV's
// key-not-found error.
func NewWithKV(kv KV, ttl time.Duration, isMiss func(error) bool, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		kv:      kv,
		ttl:     ttl,
		isMiss:  isMiss,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, key string) (*executor.SearchResult, bool) {
	k := buildKey(key)
	data, err := c.kv.Get(ctx, k)
	if err != nil {
		if !c.isMiss(err) {
			c.logger.Error("cache get failed", "key", k, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key string, result *executor.SearchResult) {
	k := buildKey(key)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	if err := c.kv.Set(ctx, k, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached result for key or computes it once for all
// concurrent callers. Cache failures degrade to computing; compute errors are
// returned and not cached. The shared computation keeps the first caller's
// deadline but not its cancellation; each caller stops waiting when its own
// ctx is done.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func(context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		cctx, cancel := detach(ctx)
		defer cancel()
		result, err := compute(cctx)
		if err != nil {
			return nil, err
		}
		c.Set(cctx, key, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*executor.SearchResult), false, nil
	}
}

func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if d, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, d)
	}
	return context.WithCancel(base)
}

// Invalidate removes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.kv.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(key string) string {
	return fmt.Sprintf("%s%016x", keyPrefix, xxhash.Sum64String(key))
}
