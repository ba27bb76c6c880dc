package resolver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiroq/otobox/internal/domain/track"
)

const (
	trackKeyPrefix    = "otobox:track:"
	playlistKeyPrefix = "otobox:playlist:"
)

// CachedResolver caches resolved tracks and playlist listings in
// Redis. Cache failures are logged and fall through to the inner
// resolver; resolution errors are never cached.
type CachedResolver struct {
	inner Resolver
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCached wraps a resolver with a Redis cache.
func NewCached(inner Resolver, rdb *redis.Client, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedResolver{inner: inner, rdb: rdb, ttl: ttl}
}

// Resolve returns a cached track when present, resolving and caching
// otherwise.
func (c *CachedResolver) Resolve(ctx context.Context, queryOrURL string) (track.Track, error) {
	key := trackKeyPrefix + queryOrURL

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var t track.Track
		if err := json.Unmarshal(data, &t); err == nil {
			return t, nil
		}
		zlog.Warn().Msgf("resolver cache: corrupt track entry, dropping: key=%s", key)
		c.rdb.Del(ctx, key)
	} else if err != redis.Nil {
		zlog.Warn().Msgf("resolver cache: get failed: key=%s err=%v", key, err)
	}

	t, err := c.inner.Resolve(ctx, queryOrURL)
	if err != nil {
		return track.Track{}, err
	}

	if data, err := json.Marshal(t); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			zlog.Warn().Msgf("resolver cache: set failed: key=%s err=%v", key, err)
		}
	}
	return t, nil
}

// ListPlaylist returns a cached listing when present, listing and
// caching otherwise.
func (c *CachedResolver) ListPlaylist(ctx context.Context, sourceRef string) ([]string, error) {
	key := playlistKeyPrefix + sourceRef

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var ids []string
		if err := json.Unmarshal(data, &ids); err == nil {
			return ids, nil
		}
		zlog.Warn().Msgf("resolver cache: corrupt playlist entry, dropping: key=%s", key)
		c.rdb.Del(ctx, key)
	} else if err != redis.Nil {
		zlog.Warn().Msgf("resolver cache: get failed: key=%s err=%v", key, err)
	}

	ids, err := c.inner.ListPlaylist(ctx, sourceRef)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(ids); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			zlog.Warn().Msgf("resolver cache: set failed: key=%s err=%v", key, err)
		}
	}
	return ids, nil
}
