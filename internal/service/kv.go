package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clone-proxy-go/internal/kv"
	"clone-proxy-go/internal/metrics"
)

// KVStore persists string values with an optional TTL. *kv.Store implements it.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// KVService implements the /kv get and set semantics over a KVStore.
type KVService struct {
	store   KVStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewKVService creates a KVService. A nil store means the KV endpoint is
// not configured and every call fails with ErrKVDisabled.
func NewKVService(store KVStore, m *metrics.Metrics, logger *slog.Logger) *KVService {
	return &KVService{
		store:   store,
		metrics: m,
		logger:  logger.With("component", "kv_service"),
	}
}

// Get returns the value stored under key. Values that parse as JSON are
// returned as json.RawMessage; anything else is returned as a string.
func (s *KVService) Get(ctx context.Context, key string) (any, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	if s.store == nil {
		return nil, ErrKVDisabled
	}

	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		s.metrics.ObserveKV("get", "miss")
		return nil, ErrKeyNotFound
	}
	if err != nil {
		s.metrics.ObserveKV("get", "error")
		return nil, fmt.Errorf("kv get: %w", err)
	}

	s.metrics.ObserveKV("get", "hit")
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	return raw, nil
}

// Set stores value under key. A JSON string value is stored unquoted; any
// other JSON value is stored as its JSON text. ttlSeconds <= 0 stores
// without expiry.
func (s *KVService) Set(ctx context.Context, key string, value json.RawMessage, ttlSeconds int64) error {
	if key == "" {
		return ErrMissingKey
	}
	if len(value) == 0 {
		return ErrMissingValue
	}
	if s.store == nil {
		return ErrKVDisabled
	}

	stored := string(value)
	var str string
	if err := json.Unmarshal(value, &str); err == nil {
		stored = str
	}

	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}

	if err := s.store.Set(ctx, key, stored, ttl); err != nil {
		s.metrics.ObserveKV("set", "error")
		return fmt.Errorf("kv set: %w", err)
	}

	s.metrics.ObserveKV("set", "ok")
	s.logger.Debug("value stored", "key", key, "ttl_seconds", ttlSeconds)
	return nil
}
