package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"silo-data/internal/domain"

	"go.uber.org/zap"
)

// latestTTL bounds staleness: ingestion does not invalidate this cache.
const latestTTL = 10 * time.Second

// LatestReadingCache is a read-through cache for per-silo latest readings.
// Dashboards poll that endpoint aggressively, so even a short TTL takes most
// of the load off the store. Cache failures are logged and treated as misses.
type LatestReadingCache struct {
	kv     KVStore
	logger *zap.Logger
}

func NewLatestReadingCache(kv KVStore, logger *zap.Logger) *LatestReadingCache {
	return &LatestReadingCache{kv: kv, logger: logger}
}

func latestKey(siloCode string) string {
	return fmt.Sprintf("silo:latest:%s", siloCode)
}

// Get returns the cached latest reading for a silo, or ok=false on miss.
func (c *LatestReadingCache) Get(ctx context.Context, siloCode string) (*domain.Reading, bool) {
	raw, err := c.kv.Get(ctx, latestKey(siloCode))
	if err != nil {
		if err != ErrCacheMiss {
			c.logger.Warn("latest reading cache get failed",
				zap.String("silo_code", siloCode),
				zap.Error(err),
			)
		}
		return nil, false
	}

	var reading domain.Reading
	if err := json.Unmarshal([]byte(raw), &reading); err != nil {
		c.logger.Warn("latest reading cache entry corrupt",
			zap.String("silo_code", siloCode),
			zap.Error(err),
		)
		return nil, false
	}

	return &reading, true
}

// Set stores the latest reading for a silo. Errors are logged, not returned:
// the cache is an optimization, never a source of truth.
func (c *LatestReadingCache) Set(ctx context.Context, siloCode string, reading *domain.Reading) {
	data, err := json.Marshal(reading)
	if err != nil {
		c.logger.Warn("failed to marshal latest reading",
			zap.String("silo_code", siloCode),
			zap.Error(err),
		)
		return
	}

	if err := c.kv.Set(ctx, latestKey(siloCode), string(data), latestTTL); err != nil {
		c.logger.Warn("latest reading cache set failed",
			zap.String("silo_code", siloCode),
			zap.Error(err),
		)
	}
}
