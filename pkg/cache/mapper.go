package cache

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/semalign/semalign/pkg/mapper"
	"github.com/semalign/semalign/pkg/schedule"
)

// CachingMapper wraps another mapper with the batch result cache. Cache
// failures degrade to a direct submission; a cached result never expires
// mid-run because the key covers the full descriptor content.
type CachingMapper struct {
	inner   mapper.Mapper
	manager *Manager
	logger  zerolog.Logger
}

// NewCachingMapper decorates inner with manager.
func NewCachingMapper(inner mapper.Mapper, manager *Manager) *CachingMapper {
	return &CachingMapper{
		inner:   inner,
		manager: manager,
		logger:  log.With().Str("component", "caching-mapper").Logger(),
	}
}

// Submit implements mapper.Mapper.
func (m *CachingMapper) Submit(ctx context.Context, d schedule.Descriptor, promptTemplate string) (*mapper.Result, error) {
	key := Key(promptTemplate, d)

	cached, err := m.manager.Get(ctx, key)
	if err == nil {
		m.logger.Debug().
			Int("batch", d.Index).
			Str("key", key).
			Msg("Batch result served from cache")
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		m.logger.Warn().Err(err).Int("batch", d.Index).Msg("Cache get error, submitting directly")
	}

	result, err := m.inner.Submit(ctx, d, promptTemplate)
	if err != nil {
		return nil, err
	}

	if err := m.manager.Set(ctx, key, result); err != nil {
		m.logger.Warn().Err(err).Int("batch", d.Index).Msg("Failed to cache batch result")
	}

	return result, nil
}
