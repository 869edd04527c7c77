package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/accounts"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/oauth"
)

// HandleOAuthBegin redirects to the provider named in the path.
func (h *Handlers) HandleOAuthBegin(c *fiber.Ctx) error {
	if !oauth.Enabled(c.Params("provider")) {
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Unknown login provider")
	}
	return gothfiber.BeginAuthHandler(c)
}

// HandleOAuthCallback completes the provider flow and logs the user in.
func (h *Handlers) HandleOAuthCallback(c *fiber.Ctx) error {
	if !oauth.Enabled(c.Params("provider")) {
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Unknown login provider")
	}
	gu, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		log.Warnf("[OAuth] %s callback failed: %v", c.Params("provider"), err)
		return respondError(c, accounts.ErrInvalidCredentials)
	}

	u, err := h.Accounts.FederatedLogin(c.UserContext(), accounts.Identity{
		Provider:   gu.Provider,
		ProviderID: gu.UserID,
		Email:      gu.Email,
		Name:       firstNonEmpty(gu.Name, gu.NickName),
		Image:      gu.AvatarURL,
	})
	if err != nil {
		return respondError(c, err)
	}
	if _, err := h.issueUserSession(c, u); err != nil {
		return respondError(c, err)
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
