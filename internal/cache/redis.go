package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"inferd/pkg/types"
)

const redisKeyPrefix = "inferd:resp:"

// Redis is an optional response-cache backend. Expiry is enforced by Redis
// itself via per-key TTLs; capacity is the server's concern, so SweepExpired
// and the eviction counter are no-ops here. Hit/miss counters are local.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedis connects to url and returns a Redis-backed Store.
func NewRedis(url string, ttl time.Duration, log zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, ttl: ttl, log: log}, nil
}

func (r *Redis) Get(key string) (types.GenerateResult, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Error().Err(err).Msg("redis get failed")
		}
		r.misses.Add(1)
		cacheMisses.Inc()
		return types.GenerateResult{}, false
	}
	var res types.GenerateResult
	if err := json.Unmarshal(data, &res); err != nil {
		r.log.Error().Err(err).Msg("corrupt cache entry, dropping")
		_ = r.client.Del(ctx, redisKeyPrefix+key).Err()
		r.misses.Add(1)
		cacheMisses.Inc()
		return types.GenerateResult{}, false
	}
	r.hits.Add(1)
	cacheHits.Inc()
	return res, true
}

func (r *Redis) Put(key string, res types.GenerateResult) {
	data, err := json.Marshal(res)
	if err != nil {
		r.log.Error().Err(err).Msg("encode cache entry failed")
		return
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	if err := r.client.SetEx(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		r.log.Error().Err(err).Msg("redis set failed")
	}
}

func (r *Redis) Invalidate(key string) {
	ctx, cancel := r.opCtx()
	defer cancel()
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		r.log.Error().Err(err).Msg("redis del failed")
	}
}

func (r *Redis) Clear() {
	ctx, cancel := r.opCtx()
	defer cancel()
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		_ = r.client.Del(ctx, iter.Val()).Err()
	}
	r.hits.Store(0)
	r.misses.Store(0)
}

// SweepExpired is a no-op: Redis expires keys server-side.
func (r *Redis) SweepExpired() int { return 0 }

func (r *Redis) Stats() types.CacheStats {
	hits, misses := r.hits.Load(), r.misses.Load()
	// Count only this cache's keys; the database may be shared.
	var size int
	ctx, cancel := r.opCtx()
	defer cancel()
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		size++
	}
	return types.CacheStats{
		Size:       size,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate(hits, misses),
		TTLSeconds: int(r.ttl / time.Second),
	}
}

// Close releases the client connection.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}
