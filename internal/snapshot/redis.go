// Package snapshot mirrors the latest reading into Redis for dashboards.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// Config holds Redis connection and key settings
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Channel   string
	TTL       time.Duration
}

// NewRedisClient creates a client from config
func NewRedisClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisPublisher stores the latest reading under a key with a TTL and
// announces it on a pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	key     string
	channel string
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewRedisPublisher creates a publisher for one device
func NewRedisPublisher(client *redis.Client, deviceID string, cfg Config, logger zerolog.Logger) *RedisPublisher {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "vitals:"
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "vitals:readings"
	}

	return &RedisPublisher{
		client:  client,
		key:     prefix + deviceID + ":latest",
		channel: channel,
		ttl:     cfg.TTL,
		logger:  logger,
	}
}

// Key returns the key holding the latest reading
func (p *RedisPublisher) Key() string {
	return p.key
}

// Channel returns the pub/sub channel readings are announced on
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish writes the reading and announces it in one transaction
func (p *RedisPublisher) Publish(ctx context.Context, reading *models.Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.key, data, p.ttl)
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	p.logger.Debug().Str("key", p.key).Int64("id", reading.ID).Msg("Snapshot published")
	return nil
}

// Latest reads back the stored reading; nil when absent or expired
func (p *RedisPublisher) Latest(ctx context.Context) (*models.Reading, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var reading models.Reading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &reading, nil
}

// Ping checks the connection
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
