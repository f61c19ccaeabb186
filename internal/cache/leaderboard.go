// Package cache keeps the ranked leaderboard snapshot in Redis so repeated reads skip the
// database until a vote or moderation decision invalidates it.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/metrics"
)

const (
	defaultKey = "onomancer:leaderboard"
	defaultTTL = 5 * time.Minute
	pingWindow = 5 * time.Second
)

var errMissingClient = errors.New("redis client is required")

type metricsHook struct{}

func (metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			metrics.RedisErrors.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			metrics.RedisErrors.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}

// LeaderboardCache stores one serialized leaderboard under a fixed key.
type LeaderboardCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Options tunes the cache key and expiry.
type Options struct {
	Key string
	TTL time.Duration
}

// Connect dials addr, which may be a redis:// URL or a bare host:port, and verifies the
// connection. An empty address returns nil without an error: the service then runs
// uncached. An unreachable server is logged and also yields nil.
func Connect(ctx context.Context, addr string, options Options, logger *zap.Logger) (*LeaderboardCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}

	var redisOptions *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		redisOptions = parsed
	} else {
		redisOptions = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, pingWindow)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, continuing without leaderboard cache", zap.Error(err))
		_ = client.Close()
		return nil, nil
	}
	logger.Info("redis connected", zap.String("addr", redisOptions.Addr))
	return NewLeaderboardCache(client, options)
}

// NewLeaderboardCache wraps an existing client.
func NewLeaderboardCache(client *redis.Client, options Options) (*LeaderboardCache, error) {
	if client == nil {
		return nil, errMissingClient
	}
	client.AddHook(metricsHook{})
	key := options.Key
	if key == "" {
		key = defaultKey
	}
	ttl := options.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &LeaderboardCache{client: client, key: key, ttl: ttl}, nil
}

// Load returns the stored snapshot, or nil when nothing is cached.
func (c *LeaderboardCache) Load(ctx context.Context) ([]byte, error) {
	payload, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Store replaces the snapshot.
func (c *LeaderboardCache) Store(ctx context.Context, payload []byte) error {
	return c.client.Set(ctx, c.key, payload, c.ttl).Err()
}

// Invalidate drops the snapshot.
func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

// Close releases the underlying connection pool.
func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}
