package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/internal/metrics"
	"github.com/leafsii/nft-marketplace/pkg/kv"
	memkv "github.com/leafsii/nft-marketplace/pkg/kv/memory"
)

type Cache struct {
	// When Redis is available, use client for all operations
	client *redis.Client
	// When Redis is unavailable, fall back to an in-memory kv.Store
	kvStore kv.Store
	// In-process event broker for when Redis is unavailable
	broker *LocalBroker

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewCache connects to Redis at addr. An empty addr, or a server that does
// not answer a ping, selects the in-memory fallback.
func NewCache(addr string, logger *zap.SugaredLogger, metrics *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if addr == "" {
		logger.Infow("No Redis address configured; using in-memory cache")
		return newInMemoryCache(logger, metrics), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("Redis unavailable; using in-memory cache with local broker", "addr", addr, "error", err)
		_ = client.Close()
		return newInMemoryCache(logger, metrics), nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// NewInMemoryCache returns a cache that never talks to Redis.
func NewInMemoryCache(logger *zap.SugaredLogger) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return newInMemoryCache(logger, nil)
}

func newInMemoryCache(logger *zap.SugaredLogger, metrics *metrics.Metrics) *Cache {
	return &Cache{
		kvStore: memkv.NewStore(),
		broker:  NewLocalBroker(),
		logger:  logger,
		metrics: metrics,
	}
}

// Cache keys and channels
const (
	KeyMarketStats   = "mkt:market:stats"
	KeyRecentEvents  = "mkt:events:recent"
	EventChannelBase = "mkt:events:"

	statsTTL        = 5 * time.Second
	recentEventsCap = 100
)

// EventChannel is the pub/sub channel carrying events of type t.
func EventChannel(t marketplace.EventType) string {
	return EventChannelBase + string(t)
}

// AllEventChannels lists the channel of every event type.
func AllEventChannels() []string {
	out := make([]string, len(marketplace.AllEventTypes))
	for i, t := range marketplace.AllEventTypes {
		out[i] = EventChannel(t)
	}
	return out
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var (
		data []byte
		err  error
	)
	if c.client != nil {
		data, err = c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			err = kv.ErrNotFound
		}
	} else {
		data, err = c.kvStore.Get(ctx, key)
	}

	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			if c.metrics != nil {
				c.metrics.RecordCacheMiss(ctx, key)
			}
			return ErrCacheMiss
		}
		c.logger.Errorw("Cache get error", "key", key, "error", err)
		return fmt.Errorf("cache get error: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Errorw("Cache set error", "key", key, "error", err)
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	if err := c.kvStore.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	if _, err := c.kvStore.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	var (
		count int64
		err   error
	)
	if c.client != nil {
		count, err = c.client.Exists(ctx, key).Result()
	} else {
		count, err = c.kvStore.Exists(ctx, key)
	}
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return count > 0, nil
}

func (c *Cache) GetMarketStats(ctx context.Context) (marketplace.Stats, error) {
	var stats marketplace.Stats
	err := c.Get(ctx, KeyMarketStats, &stats)
	return stats, err
}

func (c *Cache) SetMarketStats(ctx context.Context, stats marketplace.Stats) error {
	return c.Set(ctx, KeyMarketStats, stats, statsTTL)
}

// Notify publishes evt on its type channel, appends it to the recent-events
// list and drops the cached market stats.
func (c *Cache) Notify(ctx context.Context, evt marketplace.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("event marshal error: %w", err)
	}

	if err := c.publishRaw(ctx, EventChannel(evt.Type), data); err != nil {
		return err
	}
	if err := c.pushRecent(ctx, data); err != nil {
		return err
	}
	return c.Delete(ctx, KeyMarketStats)
}

// RecentEvents returns up to limit events, newest first.
func (c *Cache) RecentEvents(ctx context.Context, limit int) ([]marketplace.Event, error) {
	if limit <= 0 || limit > recentEventsCap {
		limit = recentEventsCap
	}

	var raw [][]byte
	if c.client != nil {
		vals, err := c.client.LRange(ctx, KeyRecentEvents, 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("recent events: %w", err)
		}
		for _, v := range vals {
			raw = append(raw, []byte(v))
		}
	} else {
		vals, err := c.kvStore.LRange(ctx, KeyRecentEvents, 0, int64(limit-1))
		if err != nil {
			return nil, fmt.Errorf("recent events: %w", err)
		}
		raw = vals
	}

	events := make([]marketplace.Event, 0, len(raw))
	for _, data := range raw {
		var evt marketplace.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warnw("Skipping undecodable cached event", "error", err)
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

func (c *Cache) pushRecent(ctx context.Context, data []byte) error {
	if c.client != nil {
		pipe := c.client.TxPipeline()
		pipe.LPush(ctx, KeyRecentEvents, data)
		pipe.LTrim(ctx, KeyRecentEvents, 0, recentEventsCap-1)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("recent events push: %w", err)
		}
		return nil
	}
	if _, err := c.kvStore.LPush(ctx, KeyRecentEvents, data); err != nil {
		return fmt.Errorf("recent events push: %w", err)
	}
	return c.kvStore.LTrim(ctx, KeyRecentEvents, 0, recentEventsCap-1)
}

// Pub/Sub methods for real-time updates
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}
	return c.publishRaw(ctx, channel, data)
}

func (c *Cache) publishRaw(ctx context.Context, channel string, data []byte) error {
	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			c.logger.Errorw("Publish error", "channel", channel, "error", err)
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	c.broker.Publish(channel, string(data))
	c.logger.Debugw("Published to in-memory pubsub", "channel", channel)
	return nil
}

// Subscribe returns a Redis subscription, or nil in in-memory mode.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	if c.client != nil {
		return c.client.Subscribe(ctx, channels...)
	}
	return nil
}

// SubscribeLocal subscribes to channels on the in-process broker. It is nil
// when the cache is backed by Redis.
func (c *Cache) SubscribeLocal(ctx context.Context, channels ...string) *LocalSubscription {
	if c.broker != nil {
		return c.broker.Subscribe(ctx, channels...)
	}
	return nil
}

// LocalSubscribers counts in-memory subscriptions on channel. It is always
// zero in Redis mode.
func (c *Cache) LocalSubscribers(channel string) int {
	if c.broker == nil {
		return 0
	}
	return c.broker.Subscribers(channel)
}

// IsInMemoryMode returns true if the cache is running in in-memory mode
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

// Close connection
func (c *Cache) Close() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
	}
	if c.kvStore != nil {
		if closeErr := c.kvStore.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// Error types
var (
	ErrCacheMiss = errors.New("cache miss")
)
