package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/metrics"
	"github.com/smukkama/welfare-notifier/internal/retry"
)

// ErrDataUnavailable means neither a fresh fetch nor a stale cache entry
// could produce data. Callers must not read it as "nothing to report".
var ErrDataUnavailable = errors.New("data source unavailable")

// staleReadTimeout bounds the fallback read, which runs even when the
// caller's context has expired during fetch retries.
const staleReadTimeout = 5 * time.Second

// Cache is the subset of the cache store a Source needs
type Cache interface {
	Get(ctx context.Context, dataType, region string) ([]byte, bool, bool, error)
	Put(ctx context.Context, dataType, region string, payload []byte, ttl time.Duration) error
	GetStale(ctx context.Context, dataType, region string) ([]byte, bool, error)
}

// Source produces one data type for one region, cache first.
type Source[T any] struct {
	dataType string
	region   string
	ttl      time.Duration
	cache    Cache
	retrier  *retry.Retrier
	fetch    func(ctx context.Context) (T, error)
	validate func(T) []string
	logger   *zap.Logger
}

// NewSource creates a source. validate returns human readable anomalies; it
// never rejects a record.
func NewSource[T any](
	dataType, region string,
	ttl time.Duration,
	cache Cache,
	retrier *retry.Retrier,
	fetch func(ctx context.Context) (T, error),
	validate func(T) []string,
	logger *zap.Logger,
) *Source[T] {
	return &Source[T]{
		dataType: dataType,
		region:   region,
		ttl:      ttl,
		cache:    cache,
		retrier:  retrier,
		fetch:    fetch,
		validate: validate,
		logger:   logger.With(zap.String("data_type", dataType), zap.String("region", region)),
	}
}

// TTL returns how long fetched data stays fresh
func (s *Source[T]) TTL() time.Duration { return s.ttl }

// GetData returns cached data unless forceRefresh is set or the cache has
// nothing fresh; otherwise fetches with retries, validates and caches. When
// every fetch attempt fails the last stored copy is returned, expired or not.
func (s *Source[T]) GetData(ctx context.Context, forceRefresh bool) (T, error) {
	var zero T

	if !forceRefresh {
		if v, ok := s.fromCache(ctx); ok {
			metrics.CacheLookups.WithLabelValues(s.dataType, "hit").Inc()
			return v, nil
		}
		metrics.CacheLookups.WithLabelValues(s.dataType, "miss").Inc()
	}

	v, fetchErr := retry.Fetch(ctx, s.retrier, s.fetch)
	if fetchErr == nil {
		metrics.ProviderFetches.WithLabelValues(s.dataType, "success").Inc()
		s.check(v)
		s.store(ctx, v)
		return v, nil
	}

	metrics.ProviderFetches.WithLabelValues(s.dataType, "failure").Inc()
	s.logger.Warn("Fetch failed, trying stale cache", zap.Error(fetchErr))

	if v, ok := s.fromStale(ctx); ok {
		metrics.CacheLookups.WithLabelValues(s.dataType, "stale").Inc()
		s.logger.Warn("Serving stale data")
		return v, nil
	}

	metrics.CacheLookups.WithLabelValues(s.dataType, "unavailable").Inc()
	return zero, fmt.Errorf("%w: %s/%s: %w", ErrDataUnavailable, s.dataType, s.region, fetchErr)
}

func (s *Source[T]) fromCache(ctx context.Context) (T, bool) {
	var v T
	payload, found, expired, err := s.cache.Get(ctx, s.dataType, s.region)
	if err != nil {
		s.logger.Warn("Cache read failed", zap.Error(err))
		return v, false
	}
	if expired {
		s.logger.Debug("Cache entry expired")
	}
	if !found {
		return v, false
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		s.logger.Warn("Cached payload does not decode, refetching", zap.Error(err))
		return v, false
	}
	return v, true
}

func (s *Source[T]) fromStale(ctx context.Context) (T, bool) {
	var v T

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), staleReadTimeout)
	defer cancel()

	payload, found, err := s.cache.GetStale(ctx, s.dataType, s.region)
	if err != nil {
		s.logger.Warn("Stale cache read failed", zap.Error(err))
		return v, false
	}
	if !found {
		return v, false
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		s.logger.Warn("Stale payload does not decode", zap.Error(err))
		return v, false
	}
	return v, true
}

func (s *Source[T]) check(v T) {
	if s.validate == nil {
		return
	}
	for _, anomaly := range s.validate(v) {
		metrics.ValidationAnomalies.WithLabelValues(s.dataType).Inc()
		s.logger.Warn("Validation anomaly", zap.String("anomaly", anomaly))
	}
}

func (s *Source[T]) store(ctx context.Context, v T) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode record for cache", zap.Error(err))
		return
	}
	if err := s.cache.Put(ctx, s.dataType, s.region, payload, s.ttl); err != nil {
		s.logger.Error("Failed to cache record", zap.Error(err))
	}
}
