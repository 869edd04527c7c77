package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/middleware"
)

// adminLoginMax caps password attempts per client IP and rate window.
const adminLoginMax = 5

func (r HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin")
	adminGroup.Post("/login", rateLimiter(adminLoginMax, r.cfg.RateLimitWindow), r.h.HandleAdminLogin)

	requireAdmin := middleware.RequireAdminSession(r.h.Admins)
	adminGroup.Post("/logout", requireAdmin, r.h.HandleAdminLogout)
	adminGroup.Get("/users", requireAdmin, r.h.HandleAdminUsers)
	adminGroup.Get("/users/:email", requireAdmin, r.h.HandleAdminUser)
	adminGroup.Delete("/users/:email", requireAdmin, r.h.HandleAdminUserDelete)
	adminGroup.Post("/users/:email/plan", requireAdmin, r.h.HandleAdminUserUpdatePlan)
	adminGroup.Post("/users/:email/credits", requireAdmin, r.h.HandleAdminUserGrantCredits)
	adminGroup.Post("/index/rebuild", requireAdmin, r.h.HandleAdminRebuildIndex)
	adminGroup.Get("/stats", requireAdmin, r.h.HandleAdminStats)

	// fiber runtime metrics
	adminGroup.Get("/metrics", requireAdmin, monitor.New(monitor.Config{APIOnly: true}))
}
