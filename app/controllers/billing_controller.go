package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/billing"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/ledger"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/usercontext"
)

const webhookSignatureHeader = "X-Webhook-Signature"

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// HandleBillingCheckout returns the hosted checkout URL for an upgrade.
func (h *Handlers) HandleBillingCheckout(c *fiber.Ctx) error {
	var in checkoutRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	target := models.ParsePlan(in.Plan)
	if !target.IsPaid() {
		return respondError(c, billing.ErrFreePlanCheckout)
	}

	u, err := h.Store.Get(c.UserContext(), usercontext.GetEmail(c))
	if err != nil {
		return respondError(c, err)
	}
	if !billing.IsUpgrade(u.Plan, target) {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Already on this plan or a higher one")
	}

	url, err := h.Checkout.CreateCheckoutSession(c.UserContext(), target, u.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleBillingWebhook applies a verified plan change. Unknown accounts and
// repeated deliveries are acknowledged so the provider stops retrying.
func (h *Handlers) HandleBillingWebhook(c *fiber.Ctx) error {
	evt, err := h.Webhooks.VerifyAndParse(c.Body(), c.Get(webhookSignatureHeader))
	if err != nil {
		log.Warnf("[Billing] Rejected webhook: %v", err)
		return respondError(c, err)
	}

	_, changed, err := h.Ledger.SyncPlan(c.UserContext(), evt.Email, evt.Plan, ledger.Window{Start: evt.Start, End: evt.End})
	if errors.Is(err, accountstore.ErrNotFound) {
		log.Warnf("[Billing] Webhook %s for unknown account %s ignored", evt.EventID, evt.Email)
		return c.JSON(fiber.Map{"received": true, "applied": false})
	}
	if err != nil {
		return respondError(c, err)
	}
	if !changed {
		log.Infof("[Billing] Webhook %s for %s repeats the current plan, nothing to do", evt.EventID, evt.Email)
		return c.JSON(fiber.Map{"received": true, "applied": false, "duplicate": true})
	}
	log.Infof("[Billing] Webhook %s applied: %s -> %s (%s)", evt.EventID, evt.Email, evt.Plan, evt.Status)
	return c.JSON(fiber.Map{"received": true, "applied": true})
}
