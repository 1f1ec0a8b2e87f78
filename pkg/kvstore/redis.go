package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-pullsink/pkg/messagepipeline"
	"github.com/illmade-knight/go-pullsink/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the connection and key settings of the Redis sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to the message ID to form the key.
	KeyPrefix string
	// TTL of zero keeps keys forever.
	TTL time.Duration
	// DisableIdentity skips CLIENT SETINFO on connect, for servers that lack it.
	DisableIdentity bool
}

// RedisSink stores each message payload under its own key.
type RedisSink struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewRedisSink connects to Redis and pings it before returning.
func NewRedisSink(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisSink, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("redis TTL cannot be negative: %s", cfg.TTL)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DisableIdentity: cfg.DisableIdentity,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger = logger.With().Str("component", "RedisSink").Logger()
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisSink{
		client:    rdb,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		logger:    logger,
	}, nil
}

// Key returns the key a message with id is stored under.
func (s *RedisSink) Key(id string) string {
	return s.keyPrefix + id
}

// Store writes the payload of msg. Messages without an ID get a random UUID.
func (s *RedisSink) Store(ctx context.Context, msg types.DecodedMessage) error {
	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}
	key := s.Key(id)
	if err := s.client.Set(ctx, key, msg.Payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("Message stored in Redis.")
	return nil
}

// Processor adapts the sink to the pull service.
func (s *RedisSink) Processor() messagepipeline.MessageProcessor {
	return s.Store
}

// Close closes the Redis client connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
