package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/elitemodel/backoffice/internal/config"
)

// commander is the slice of go-redis the cache needs; *redis.Client satisfies it.
type commander interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Close() error
}

// CacheMetrics tracks Redis operations.
type CacheMetrics struct {
	operations *prometheus.CounterVec
	latency    prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metrics     *CacheMetrics
)

func cacheMetrics() *CacheMetrics {
	metricsOnce.Do(func() {
		metrics = &CacheMetrics{
			operations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cache_operations_total",
				Help: "Redis operations by command and result",
			}, []string{"op", "result"}),
			latency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "cache_operation_duration_seconds",
				Help:    "Redis operation latency",
				Buckets: prometheus.DefBuckets,
			}),
		}
	})
	return metrics
}

func (m *CacheMetrics) observe(op string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, redis.Nil):
		result = "miss"
	case err != nil:
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// RedisCache stores JSON documents and leases under a key prefix.
type RedisCache struct {
	cmd     commander
	prefix  string
	metrics *CacheMetrics
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisCache(client, cfg.Prefix), nil
}

func newRedisCache(cmd commander, prefix string) *RedisCache {
	return &RedisCache{cmd: cmd, prefix: prefix, metrics: cacheMetrics()}
}

func (rc *RedisCache) key(k string) string {
	return rc.prefix + k
}

// SetJSON stores value as JSON. A zero ttl keeps the key forever.
func (rc *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	timer := prometheus.NewTimer(rc.metrics.latency)
	defer timer.ObserveDuration()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = rc.cmd.Set(ctx, rc.key(key), data, ttl).Err()
	rc.metrics.observe("set", err)
	return err
}

// GetJSON decodes the stored value into dest. found is false when the key is absent.
func (rc *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) (found bool, err error) {
	timer := prometheus.NewTimer(rc.metrics.latency)
	defer timer.ObserveDuration()

	data, err := rc.cmd.Get(ctx, rc.key(key)).Bytes()
	rc.metrics.observe("get", err)
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Ping checks connectivity.
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.cmd.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.cmd.Close()
}
