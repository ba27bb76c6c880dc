package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiroq/otobox/internal/infra/config"
)

// NewFromConfig creates the resolver described by the configuration,
// wrapping it with the Redis cache when enabled.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Resolver, error) {
	var r Resolver

	switch cfg.Resolver.Type {
	case "spotify":
		var settings SpotifyConfig
		if err := mapstructure.Decode(cfg.Resolver.Settings, &settings); err != nil {
			return nil, errors.Wrap(err, "failed to decode resolver settings")
		}
		if err := validator.New().Struct(settings); err != nil {
			return nil, errors.Wrap(err, "resolver settings validation failed")
		}
		sp, err := NewSpotify(ctx, settings)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create spotify resolver")
		}
		r = sp
		zlog.Info().Msgf("resolver: created: type=spotify market=%s", settings.Market)

	default:
		return nil, errors.Newf("unsupported resolver type: %s", cfg.Resolver.Type)
	}

	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr})
		r = NewCached(r, rdb, cfg.CacheTTL())
		zlog.Info().Msgf("resolver: redis cache enabled: addr=%s ttl=%v", cfg.Cache.Addr, cfg.CacheTTL())
	}

	return r, nil
}
