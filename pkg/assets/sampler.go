package assets

import (
	"context"

	"github.com/agentstation/reclaim/internal/cache"
	"github.com/agentstation/reclaim/pkg/constants"
)

// Sampler reads the leading bytes of objects for content inspection.
// Samples are cached by key and etag, so an object rewritten under the
// same key is read again.
type Sampler struct {
	store Store
	size  int64
	cache *cache.Cache
}

// NewSampler creates a sampler reading size bytes per object. A
// non-positive size uses constants.SampleSize.
func NewSampler(store Store, size int64) *Sampler {
	if size <= 0 {
		size = constants.SampleSize
	}
	return &Sampler{
		store: store,
		size:  size,
		cache: cache.New(constants.SampleCacheTTL, constants.SampleCacheCleanupInterval),
	}
}

// Sample returns the first bytes of the object described by info.
func (s *Sampler) Sample(ctx context.Context, info ObjectInfo) ([]byte, error) {
	key := cache.Key(info.Key, info.ETag)
	if b, ok := s.cache.Get(key); ok {
		return b, nil
	}
	b, err := s.store.GetRange(ctx, info.Key, 0, s.size)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, b)
	return b, nil
}

// Stats returns the sample cache statistics.
func (s *Sampler) Stats() cache.Stats {
	return s.cache.GetStats()
}
