package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/session"
	icuser "github.com/ManuelReschke/CiteCheck/internal/pkg/usercontext"
)

// RequireUserSession accepts a user session from the cookie or a bearer header
// and returns JSON 401 otherwise.
func RequireUserSession(users *session.UserSessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := users.Verify(users.TokenFrom(c))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "login required",
			})
		}
		icuser.SetUserContext(c, icuser.UserContext{
			UserID:     claims.UserID,
			Email:      claims.Email,
			Name:       claims.Name,
			Plan:       claims.Plan,
			IsLoggedIn: true,
		})
		return c.Next()
	}
}

// OptionalUserSession sets the user context when a valid session is present
// and lets anonymous requests through.
func OptionalUserSession(users *session.UserSessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if claims, err := users.Verify(users.TokenFrom(c)); err == nil {
			icuser.SetUserContext(c, icuser.UserContext{
				UserID:     claims.UserID,
				Email:      claims.Email,
				Name:       claims.Name,
				Plan:       claims.Plan,
				IsLoggedIn: true,
			})
		}
		return c.Next()
	}
}

// RequireAdminSession only looks at the admin cookie. A user session never grants admin access.
func RequireAdminSession(admins *session.AdminSessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := admins.Verify(admins.TokenFrom(c))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "admin login required",
			})
		}
		icuser.SetAdminContext(c, icuser.AdminContext{Username: claims.Username, IsAdmin: claims.IsAdmin})
		return c.Next()
	}
}
