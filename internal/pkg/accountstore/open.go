package accountstore

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/cache"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/kvrest"
)

// Open picks the backend once, from configuration, and verifies it is reachable.
// The REST store wins when both are configured.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	policy := PolicyFromConfig(cfg.Store)

	var store Store
	switch {
	case cfg.UsesRESTKV():
		if cfg.UsesRedis() {
			log.Warnf("[AccountStore] Both REST KV and Redis are configured, using REST KV")
		}
		store = NewRESTStore(kvrest.NewClient(cfg.RESTKV.URL, cfg.RESTKV.Token, policy.Timeout), policy)
	case cfg.UsesRedis():
		client, err := cache.NewClient(ctx, cfg.Redis, policy.Timeout)
		if err != nil {
			return nil, fmt.Errorf("open redis account store: %w", err)
		}
		store = NewRedisStore(client, policy)
	default:
		return nil, fmt.Errorf("%w: set KV_REST_API_URL and KV_REST_API_TOKEN, or REDIS_URL", ErrMisconfiguredBackend)
	}

	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ping %s account store: %w", store.Backend(), err)
	}
	log.Infof("[AccountStore] Using %s backend", store.Backend())
	return store, nil
}
