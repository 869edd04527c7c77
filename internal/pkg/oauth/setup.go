package oauth

import (
	"github.com/gofiber/fiber/v2/log"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/discord"
	"github.com/markbates/goth/providers/google"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/session"
)

// Setup registers the goth providers that have credentials and points the
// goth_fiber handshake state at the OAuth state store. It returns the names of
// the enabled providers. It is safe to call multiple times.
func Setup(cfg *config.Config, useRedis bool) []string {
	base := cfg.App.PublicDomain

	var providers []goth.Provider
	if cfg.OAuth.GoogleKey != "" && cfg.OAuth.GoogleSecret != "" {
		providers = append(providers, google.New(
			cfg.OAuth.GoogleKey,
			cfg.OAuth.GoogleSecret,
			base+"/auth/google/callback",
			"email", "profile",
		))
	}
	if cfg.OAuth.DiscordKey != "" && cfg.OAuth.DiscordSecret != "" {
		providers = append(providers, discord.New(
			cfg.OAuth.DiscordKey,
			cfg.OAuth.DiscordSecret,
			base+"/auth/discord/callback",
			discord.ScopeIdentify, discord.ScopeEmail,
		))
	}

	goth.ClearProviders()
	goth.UseProviders(providers...)
	gothfiber.SessionStore = session.NewOAuthStateStore(cfg, gothic.SessionName, useRedis)

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	if len(names) == 0 {
		log.Info("[OAuth] No providers configured, federated login disabled")
	} else {
		log.Infof("[OAuth] Enabled providers: %v", names)
	}
	return names
}

// Enabled reports whether a provider was registered by Setup.
func Enabled(name string) bool {
	_, err := goth.GetProvider(name)
	return err == nil
}
