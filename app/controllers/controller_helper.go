package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accounts"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/billing"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/entitlements"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/hcaptcha"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/ledger"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/session"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/statistics"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/utils"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/verification"
)

// CheckoutCreator opens a hosted checkout for a paid plan.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, plan models.Plan, email string) (string, error)
}

// Handlers holds every component the HTTP layer calls into. main builds it once.
type Handlers struct {
	Store        accountstore.Store
	Accounts     *accounts.Service
	Ledger       *ledger.Ledger
	Verification *verification.Service
	Users        *session.UserSessions
	Admins       *session.AdminSessions
	Checkout     CheckoutCreator
	Webhooks     *billing.WebhookVerifier
	Stats        *statistics.Collector
	// Captcha is nil when sign-up protection is disabled.
	Captcha *hcaptcha.Verifier
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// respondError maps domain errors onto HTTP responses. Credential failures get
// one generic message so callers cannot tell which check failed.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return errorJSON(c, fiber.StatusPaymentRequired, "insufficient_credits",
			"No credits left. Your balance refills at the next reset, or upgrade your plan for more.")
	case errors.Is(err, accounts.ErrVerificationPending):
		return errorJSON(c, fiber.StatusConflict, "verification_pending",
			"A verification code was already sent to this address. Use it or wait until it expires.")
	case errors.Is(err, accountstore.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
	case errors.Is(err, accountstore.ErrConflict):
		return errorJSON(c, fiber.StatusConflict, "conflict", "An account with this email already exists")
	case errors.Is(err, accountstore.ErrTransient), errors.Is(err, accountstore.ErrContention):
		log.Warnf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
		return errorJSON(c, fiber.StatusServiceUnavailable, "unavailable", "Temporary problem, please try again")
	case errors.Is(err, accounts.ErrInvalidCredentials),
		errors.Is(err, session.ErrInvalidCredential),
		errors.Is(err, verification.ErrInvalidOrExpiredVerification),
		errors.Is(err, billing.ErrInvalidSignature):
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Invalid or expired credentials")
	case errors.Is(err, accounts.ErrEmailNotVerified):
		return errorJSON(c, fiber.StatusForbidden, "email_not_verified", "Please verify your email address first")
	case errors.Is(err, accounts.ErrInvalidInput),
		errors.Is(err, accounts.ErrMissingEmail),
		errors.Is(err, accountstore.ErrInvalidRecord),
		errors.Is(err, ledger.ErrInvalidWindow),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, billing.ErrInvalidPayload),
		errors.Is(err, billing.ErrFreePlanCheckout):
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, hcaptcha.ErrCaptchaFailed):
		return errorJSON(c, fiber.StatusBadRequest, "captcha_failed", "Captcha validation failed")
	case errors.Is(err, accountstore.ErrNoIndex):
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "The active backend keeps no index")
	case errors.Is(err, billing.ErrNotConfigured):
		return errorJSON(c, fiber.StatusNotImplemented, "not_configured", "Billing is not configured")
	}
	log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
	return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Something went wrong")
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// accountView is the public shape of a record. Secrets never leave the server.
func accountView(u *models.User) fiber.Map {
	limits := entitlements.GetPlanLimits(u.Plan)
	return fiber.Map{
		"id":                      u.ID,
		"email":                   u.Email,
		"name":                    u.Name,
		"image":                   u.Image,
		"avatar_url":              utils.AvatarURL(u.Image, u.Email),
		"provider":                u.Provider,
		"plan":                    u.Plan,
		"credits":                 u.Credits,
		"credits_reset_date":      u.CreditsResetDate.UTC().Format(time.RFC3339),
		"subscription_start_date": formatTimePtr(u.SubscriptionStartDate),
		"subscription_end_date":   formatTimePtr(u.SubscriptionEndDate),
		"email_verified":          u.EmailVerified,
		"has_password":            u.PasswordHash != "",
		"created_at":              u.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at":           formatTimePtr(u.LastLoginAt),
		"limits": fiber.Map{
			"max_credits":     limits.MaxCredits,
			"has_chat_access": limits.HasChatAccess,
			"reset_cadence":   limits.ResetCadence,
		},
	}
}

// issueUserSession sets the session cookie and returns the token for bearer clients.
func (h *Handlers) issueUserSession(c *fiber.Ctx, u *models.User) (fiber.Map, error) {
	token, expires, err := h.Users.Issue(u)
	if err != nil {
		return nil, err
	}
	h.Users.SetCookie(c, token, expires)
	return fiber.Map{
		"account":    accountView(u),
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	}, nil
}
