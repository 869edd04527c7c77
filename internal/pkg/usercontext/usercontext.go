package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CiteCheck/app/models"
)

const (
	localsUser  = "USER_CONTEXT"
	localsAdmin = "ADMIN_CONTEXT"
)

// UserContext is what a verified user session tells a handler about the caller.
type UserContext struct {
	UserID     string      `json:"id"`
	Email      string      `json:"email"`
	Name       string      `json:"name"`
	Plan       models.Plan `json:"plan"`
	IsLoggedIn bool        `json:"isLoggedIn"`
}

// AdminContext is set on /admin routes after the admin session is verified.
type AdminContext struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

func SetUserContext(c *fiber.Ctx, u UserContext) {
	c.Locals(localsUser, u)
}

func SetAdminContext(c *fiber.Ctx, a AdminContext) {
	c.Locals(localsAdmin, a)
}

// GetUserContext returns an anonymous context when none is set.
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(localsUser).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

func GetAdminContext(c *fiber.Ctx) AdminContext {
	if ctx, ok := c.Locals(localsAdmin).(AdminContext); ok {
		return ctx
	}
	return AdminContext{}
}

func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetEmail returns the signed-in user's email, or "" for anonymous callers.
func GetEmail(c *fiber.Ctx) string {
	return GetUserContext(c).Email
}
