package tilecache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Redis is a shared tile cache backed by a Redis instance. Backend
// errors are logged and treated as misses so tile serving never depends
// on cache availability.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedis connects to addr and verifies the connection with a ping.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, eris.New("tilecache: redis address is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "tilecache: redis ping %s", addr)
	}

	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (c *Redis) Get(ctx context.Context, key string) []byte {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !eris.Is(err, redis.Nil) {
			zap.L().Debug("tilecache: redis get failed", zap.String("key", key), zap.Error(err))
		}
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return data
}

func (c *Redis) Put(ctx context.Context, key string, data []byte) {
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		zap.L().Debug("tilecache: redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate scans for keys under the prefix and deletes them in batches.
func (c *Redis) Invalidate(ctx context.Context, prefix string) {
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 500).Iterator()

	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
			zap.L().Warn("tilecache: redis invalidate failed",
				zap.String("prefix", prefix), zap.Error(err))
		}
		batch = batch[:0]
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			flush()
		}
	}
	flush()

	if err := iter.Err(); err != nil {
		zap.L().Warn("tilecache: redis scan failed",
			zap.String("prefix", prefix), zap.Error(err))
	}
}

// Stats reports local hit/miss counters; entry counts live in Redis and
// are not tracked per process.
func (c *Redis) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, HitRate: hitRate}
}

func (c *Redis) Close() error {
	if err := c.rdb.Close(); err != nil {
		return eris.Wrap(err, "tilecache: redis close")
	}
	return nil
}
