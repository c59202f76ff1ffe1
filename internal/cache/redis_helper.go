package cache

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBatchPlanTTL = 24 * time.Hour
	redisPingTimeout    = 5 * time.Second
	redisDialTimeout    = 3 * time.Second
	redisIOTimeout      = 2 * time.Second
)

// NewRedisClient builds a client for the configured instance and fails fast
// when it does not answer a ping.
func NewRedisClient(cfg config.CacheConfig) (*redis.Client, error) {
	opts, err := buildRedisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", opts.Addr, err)
	}
	return client, nil
}

func batchPlanTTL(cfg config.CacheConfig) time.Duration {
	if cfg.BatchPlanTTLSeconds <= 0 {
		return defaultBatchPlanTTL
	}
	return time.Duration(cfg.BatchPlanTTLSeconds) * time.Second
}

// buildRedisOptions prefers REDIS_URL and otherwise assembles host, port,
// password and db. Timeouts are applied in both cases.
func buildRedisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.RedisURL != "" {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     net.JoinHostPort(orDefault(cfg.RedisHost, "127.0.0.1"), orDefault(cfg.RedisPort, "6379")),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = redisDialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = redisIOTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = redisIOTimeout
	}
	return opts, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// unlinkMatching removes every key under prefix, unlinking in groups of
// batchSize as the scan yields them, and reports how many keys went away.
func unlinkMatching(ctx context.Context, client *redis.Client, prefix string, batchSize int64) (int, error) {
	iter := client.Scan(ctx, 0, prefix+"*", batchSize).Iterator()

	removed := 0
	pending := make([]string, 0, batchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := client.Unlink(ctx, pending...).Result()
		if err != nil {
			return fmt.Errorf("redis unlink failed: %w", err)
		}
		removed += int(n)
		pending = pending[:0]
		return nil
	}

	for iter.Next(ctx) {
		pending = append(pending, iter.Val())
		if int64(len(pending)) >= batchSize {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan failed: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}
