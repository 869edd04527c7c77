package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CiteCheck/app/controllers"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
)

type HttpRouter struct {
	h   *controllers.Handlers
	cfg config.AppConfig
}

func (r HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := r.h.Store.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "backend": r.h.Store.Backend()})
		}
		return c.JSON(fiber.Map{"status": "ok", "backend": r.h.Store.Backend()})
	})

	auth := app.Group("/auth")
	auth.Get("/:provider", r.h.HandleOAuthBegin)
	auth.Get("/:provider/callback", r.h.HandleOAuthCallback)

	r.registerAdminRoutes(app)
}

func NewHttpRouter(h *controllers.Handlers, cfg config.AppConfig) *HttpRouter {
	return &HttpRouter{h: h, cfg: cfg}
}
