package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/CiteCheck/app/controllers"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/middleware"
)

type ApiRouter struct {
	h   *controllers.Handlers
	cfg config.AppConfig
}

func (r ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", rateLimiter(r.cfg.RateLimitMax, r.cfg.RateLimitWindow))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	auth := v1.Group("/auth")
	auth.Post("/signup", r.h.HandleSignUp)
	auth.Post("/signin", r.h.HandleSignIn)
	auth.Post("/signout", middleware.OptionalUserSession(r.h.Users), r.h.HandleSignOut)
	auth.Post("/verify/code", r.h.HandleVerifyCode)
	auth.Post("/verify/request", r.h.HandleRequestVerification)
	auth.Get("/verify/link", r.h.HandleVerifyLink)

	requireUser := middleware.RequireUserSession(r.h.Users)
	v1.Get("/account", requireUser, r.h.HandleGetUserAccount)
	v1.Post("/chat/consume", requireUser, r.h.HandleConsumeCredit)
	v1.Post("/billing/checkout", requireUser, r.h.HandleBillingCheckout)
	v1.Post("/billing/webhook", r.h.HandleBillingWebhook)
}

func NewApiRouter(h *controllers.Handlers, cfg config.AppConfig) *ApiRouter {
	return &ApiRouter{h: h, cfg: cfg}
}

// rateLimiter keys on the client IP and answers 429 in the API error shape.
func rateLimiter(limit int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, slow down",
			})
		},
	})
}
