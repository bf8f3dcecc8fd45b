package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const staleSuffix = ":stale"

// entry is the envelope stored under each key. Expiry is judged against the
// store's clock rather than the Redis key TTL so reads are exact.
type entry struct {
	DataType  string          `json:"data_type"`
	Region    string          `json:"region"`
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt time.Time       `json:"expires_at"`
	StoredAt  time.Time       `json:"stored_at"`
}

// Store caches normalized provider records in Redis keyed by (dataType, region).
//
// Every Put writes two keys atomically: the live entry, which Get evicts once
// expired, and a shadow copy retained for staleRetention that only GetStale
// reads.
type Store struct {
	redis          *redis.Client
	prefix         string
	staleRetention time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithStaleRetention sets how long the last known good copy is kept.
func WithStaleRetention(d time.Duration) Option {
	return func(s *Store) { s.staleRetention = d }
}

// NewStore creates a new cache store
func NewStore(redisClient *redis.Client, prefix string, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		redis:          redisClient,
		prefix:         prefix,
		staleRetention: 24 * time.Hour,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(dataType, region string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, dataType, region)
}

// Get returns the live payload for (dataType, region). An expired entry is
// deleted and reported with found=false, expired=true. A payload that cannot
// be decoded reads as a miss.
func (s *Store) Get(ctx context.Context, dataType, region string) (payload []byte, found, expired bool, err error) {
	key := s.key(dataType, region)

	e, ok, err := s.read(ctx, key)
	if err != nil || !ok {
		return nil, false, false, err
	}

	if s.now().After(e.ExpiresAt) {
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			s.logger.Warn("Failed to evict expired cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false, true, nil
	}

	return e.Payload, true, false, nil
}

// GetStale returns the last stored payload regardless of expiry. It is only
// meant as a fallback when a fresh fetch is impossible.
func (s *Store) GetStale(ctx context.Context, dataType, region string) ([]byte, bool, error) {
	e, ok, err := s.read(ctx, s.key(dataType, region)+staleSuffix)
	if err != nil || !ok {
		return nil, false, err
	}
	return e.Payload, true, nil
}

// Put replaces the entry for (dataType, region).
func (s *Store) Put(ctx context.Context, dataType, region string, payload []byte, ttl time.Duration) error {
	if !json.Valid(payload) {
		return fmt.Errorf("payload for %s/%s is not valid JSON", dataType, region)
	}

	now := s.now()
	data, err := json.Marshal(entry{
		DataType:  dataType,
		Region:    region,
		Payload:   payload,
		ExpiresAt: now.Add(ttl),
		StoredAt:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	key := s.key(dataType, region)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.Set(ctx, key+staleSuffix, data, s.staleRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set cache entry in Redis: %w", err)
	}

	s.logger.Debug("Cache entry stored",
		zap.String("key", key),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// Cleanup sweeps live entries that are past their expiry and returns how
// many were removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	iter := s.redis.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, staleSuffix) {
			continue
		}

		e, ok, err := s.read(ctx, key)
		if err != nil {
			return removed, err
		}
		if ok && !s.now().After(e.ExpiresAt) {
			continue
		}

		if err := s.redis.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", key, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	return removed, nil
}

func (s *Store) read(ctx context.Context, key string) (*entry, bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || len(e.Payload) == 0 {
		s.logger.Warn("Discarding malformed cache entry", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return &e, true, nil
}
