package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/CiteCheck/app/controllers"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accounts"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/billing"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/env"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/hcaptcha"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/ledger"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/mail"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/oauth"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/router"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/security"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/session"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/statistics"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/verification"
)

const shutdownTimeout = 10 * time.Second

func main() {
	env.SetupEnvFile()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[Main] %v", err)
	}

	ctx := context.Background()
	store, err := accountstore.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("[Main] Account store: %v", err)
	}

	app, err := NewApplication(cfg, store)
	if err != nil {
		_ = store.Close()
		log.Fatalf("[Main] %v", err)
	}

	go func() {
		if err := app.Listen(fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port)); err != nil {
			log.Errorf("[Main] Listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Main] Shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Main] Shutdown: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Errorf("[Main] Closing account store: %v", err)
	}
}

// NewApplication wires every component around an already opened store.
func NewApplication(cfg *config.Config, store accountstore.Store) (*fiber.App, error) {
	users, admins, err := session.New(cfg.Session, cfg.Admin)
	if err != nil {
		return nil, err
	}
	links, err := security.NewLinkSigner(cfg.Verification.LinkSecret, cfg.Verification.LinkTTL)
	if err != nil {
		return nil, err
	}

	verifier := verification.NewService(store, mail.NewSMTPSender(cfg.Mail), links, verification.Options{
		CodeTTL:     cfg.Verification.CodeTTL,
		LinkBaseURL: cfg.App.PublicDomain + cfg.Verification.LinkPath,
	})
	l := ledger.New(store)

	oauth.Setup(cfg, store.Backend() == accountstore.BackendRedis)

	h := &controllers.Handlers{
		Store:        store,
		Accounts:     accounts.NewService(store, l, verifier),
		Ledger:       l,
		Verification: verifier,
		Users:        users,
		Admins:       admins,
		Checkout:     billing.NewCheckoutClient(cfg.Billing),
		Webhooks:     billing.NewWebhookVerifier(cfg.Billing),
		Stats:        statistics.NewCollector(store, statistics.DefaultRefreshInterval),
		Captcha:      hcaptcha.New(cfg.Captcha.Secret, cfg.Captcha.VerifyURL),
	}
	if cfg.Mail.Host == "" {
		log.Warn("[Main] SMTP_HOST is not set, verification messages cannot be delivered")
	}

	app := fiber.New(fiber.Config{
		AppName:   "CiteCheck",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, h, cfg.App)

	return app, nil
}
