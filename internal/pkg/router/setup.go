package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CiteCheck/app/controllers"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the provider login routes, the admin area and the
// rate limited JSON API.
func InstallRouter(app *fiber.App, h *controllers.Handlers, cfg config.AppConfig) {
	setup(app, NewHttpRouter(h, cfg), NewApiRouter(h, cfg))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
