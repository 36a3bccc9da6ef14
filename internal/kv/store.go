// Package kv provides the Redis-backed key-value store behind /kv.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"clone-proxy-go/internal/config"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Store stores string values under prefixed keys with an optional TTL.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// New creates a Store for cfg. It does not connect; use Ping to check the server.
func New(cfg config.KVConfig, logger *slog.Logger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger.With("component", "kv_store", "addr", cfg.Addr),
	}
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		s.logger.Debug("key not found", "key", key)
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get key %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key. A ttl of zero or less stores without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set key %s: %w", key, err)
	}
	s.logger.Debug("key stored", "key", key, "ttl", ttl)
	return nil
}

// Ping checks that the Redis server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
