// Package cache provides a Redis-backed cache of mapper batch results, so a
// re-run over unchanged catalog chunks does not pay the scoring service
// again for an identical submission.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/semalign/semalign/pkg/mapper"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// cachedResult is the stored wire form of a mapper result.
type cachedResult struct {
	Candidates   []mapper.Candidate `json:"candidates"`
	InputTokens  int                `json:"input_tokens"`
	OutputTokens int                `json:"output_tokens"`
	LatencyMs    int64              `json:"latency_ms"`
	StoredAt     time.Time          `json:"stored_at"`
}

// Manager handles batch result caching with a Redis backend.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a cache manager. ttl bounds how long stored results
// stay valid; zero means one week.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Manager{redis: redisClient, ttl: ttl}
}

// Get retrieves a cached result by key. Returns ErrCacheMiss when absent.
func (m *Manager) Get(ctx context.Context, key string) (*mapper.Result, error) {
	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var stored cachedResult
	if err := json.Unmarshal(data, &stored); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.Inc()
	return &mapper.Result{
		Candidates:   stored.Candidates,
		InputTokens:  stored.InputTokens,
		OutputTokens: stored.OutputTokens,
		Latency:      time.Duration(stored.LatencyMs) * time.Millisecond,
	}, nil
}

// Set stores a result under key with the manager's TTL.
func (m *Manager) Set(ctx context.Context, key string, result *mapper.Result) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	data, err := json.Marshal(cachedResult{
		Candidates:   result.Candidates,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		LatencyMs:    result.Latency.Milliseconds(),
		StoredAt:     time.Now(),
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key, data, m.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.redis.Del(ctx, key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
