package session

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/cache"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
)

const oauthStateRedisDB = 2

// NewOAuthStateStore keeps the short-lived provider handshake state (the goth
// session) in Redis when useRedis is set, in memory otherwise. It is separate
// from user sessions, which are stateless tokens. The Redis storage pings on
// construction, so only pass useRedis once Redis is known to be reachable.
func NewOAuthStateStore(cfg *config.Config, keyLookup string, useRedis bool) *fibersession.Store {
	store := fibersession.Config{
		KeyLookup:      "cookie:" + keyLookup,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieSecure:   cfg.Session.SecureOnly,
		Expiration:     15 * time.Minute,
	}

	if useRedis && cfg.UsesRedis() {
		opts, err := cache.Options(cfg.Redis)
		if err != nil {
			log.Warnf("[Session] Redis options unusable for OAuth state, falling back to memory: %v", err)
			return fibersession.New(store)
		}
		host, port := opts.Addr, 6379
		if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
			host = h
			if parsed, e := strconv.Atoi(p); e == nil {
				port = parsed
			}
		}
		store.Storage = redisstorage.New(redisstorage.Config{
			Host:     host,
			Port:     port,
			Username: opts.Username,
			Password: opts.Password,
			Database: oauthStateRedisDB,
			Reset:    false,
		})
	}
	return fibersession.New(store)
}
