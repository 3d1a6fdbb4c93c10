package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelai/risk-engine/internal/config"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
)

// NewRedisClient dials redis with the configured pool settings.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// Cache serves overviews out of redis, recomputing on miss. Cache trouble
// of any kind degrades to a recompute, never to an error.
type Cache struct {
	agg    *Aggregator
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewCache wraps the aggregator with a redis-backed overview cache.
func NewCache(agg *Aggregator, client *redis.Client, ttl time.Duration, log *logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		agg:    agg,
		client: client,
		ttl:    ttl,
		log:    log.Named("analytics_cache"),
	}
}

// Overview returns the cached snapshot for the window if redis holds a
// fresh one, otherwise computes and stores it.
func (c *Cache) Overview(ctx context.Context, windowDays int) (*Overview, error) {
	days, err := c.agg.resolveWindow(windowDays)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("risk-engine:analytics:overview:%dd", days)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var ov Overview
		if err := json.Unmarshal(raw, &ov); err == nil {
			return &ov, nil
		}
		c.log.Warn("discarding unreadable analytics cache entry",
			logger.StringField("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("analytics cache read failed", logger.ErrorField(err))
	}

	ov, err := c.agg.Overview(ctx, days)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(ov); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn("analytics cache write failed", logger.ErrorField(err))
		}
	}

	return ov, nil
}
