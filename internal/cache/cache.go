// Package cache provides caching for rendered frames and derived query
// results.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	FrameCacheSizeMB int
	FrameTTL         time.Duration
	RangeCacheSize   int
}

// ChannelRange is a cached percentile range for one channel under one
// visibility version.
type ChannelRange struct {
	Low, High float64
}

// Manager manages the encoded-frame cache and the channel-range cache.
type Manager struct {
	frameCache *bigcache.BigCache
	rangeCache *lru.Cache[string, ChannelRange]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	frameCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.FrameTTL,
		CleanWindow:        cfg.FrameTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // full-viewport PNGs, not tiles
		HardMaxCacheSize:   cfg.FrameCacheSizeMB,
		Verbose:            false,
	}

	frameCache, err := bigcache.New(context.Background(), frameCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}

	rangeCache, err := lru.New[string, ChannelRange](cfg.RangeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create range cache: %w", err)
	}

	return &Manager{
		frameCache: frameCache,
		rangeCache: rangeCache,
	}, nil
}

// GetFrame retrieves an encoded frame from cache.
func (m *Manager) GetFrame(key string) ([]byte, bool) {
	data, err := m.frameCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFrame stores an encoded frame in cache.
func (m *Manager) SetFrame(key string, data []byte) error {
	return m.frameCache.Set(key, data)
}

// GetRange retrieves a channel percentile range from cache.
func (m *Manager) GetRange(key string) (ChannelRange, bool) {
	return m.rangeCache.Get(key)
}

// SetRange stores a channel percentile range in cache.
func (m *Manager) SetRange(key string, r ChannelRange) {
	m.rangeCache.Add(key, r)
}

// FrameKey builds the cache key for a rendered frame. stateVersion
// covers every render input except the viewport, so a stale version can
// never be served after a mutation.
func FrameKey(session string, stateVersion uint64, width, height int) string {
	return fmt.Sprintf("frame:%s:v%d:%dx%d", session, stateVersion, width, height)
}

// RangeKey builds the cache key for a channel's percentile range under a
// visibility version.
func RangeKey(datasetName, channel string, visVersion uint64) string {
	return fmt.Sprintf("range:%s:%s:v%d", datasetName, channel, visVersion)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frame_cache_len": m.frameCache.Len(),
		"frame_cache_cap": m.frameCache.Capacity(),
		"range_cache_len": m.rangeCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.frameCache.Close()
}
