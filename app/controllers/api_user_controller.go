package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/entitlements"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/usercontext"
)

type consumeRequest struct {
	// Advanced calls need a plan with chat access.
	Advanced bool `json:"advanced"`
}

// HandleGetUserAccount returns the signed-in account with any due reset applied.
func (h *Handlers) HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	u, err := h.Ledger.Balance(c.UserContext(), userCtx.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(accountView(u))
}

// HandleConsumeCredit takes one credit for a chat call.
func (h *Handlers) HandleConsumeCredit(c *fiber.Ctx) error {
	var in consumeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
		}
	}
	email := usercontext.GetEmail(c)

	if in.Advanced {
		u, err := h.Store.Get(c.UserContext(), email)
		if err != nil {
			return respondError(c, err)
		}
		if !entitlements.GetPlanLimits(u.Plan).HasChatAccess {
			return errorJSON(c, fiber.StatusForbidden, "plan_required", "Advanced chat needs a monthly or yearly plan")
		}
	}

	u, err := h.Ledger.ConsumeCredit(c.UserContext(), email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"credits":            u.Credits,
		"credits_reset_date": u.CreditsResetDate.UTC().Format(time.RFC3339),
	})
}
