package controllers

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accounts"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/billing"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/ledger"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/session"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/verification"
)

func TestFormatTimePtr(t *testing.T) {
	assert.Nil(t, formatTimePtr(nil))

	now := time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)
	formatted := formatTimePtr(&now)
	assert.IsType(t, "", formatted)

	expected := now.UTC().Format(time.RFC3339)
	assert.Equal(t, expected, formatted)
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("get: %w", accountstore.ErrNotFound), fiber.StatusNotFound, "not_found"},
		{accountstore.ErrConflict, fiber.StatusConflict, "conflict"},
		{accounts.ErrVerificationPending, fiber.StatusConflict, "verification_pending"},
		{ledger.ErrInsufficientCredits, fiber.StatusPaymentRequired, "insufficient_credits"},
		{fmt.Errorf("%w: redis get: boom", accountstore.ErrTransient), fiber.StatusServiceUnavailable, "unavailable"},
		{accountstore.ErrContention, fiber.StatusServiceUnavailable, "unavailable"},
		{session.ErrInvalidCredential, fiber.StatusUnauthorized, "unauthorized"},
		{verification.ErrInvalidOrExpiredVerification, fiber.StatusUnauthorized, "unauthorized"},
		{accounts.ErrInvalidCredentials, fiber.StatusUnauthorized, "unauthorized"},
		{billing.ErrInvalidSignature, fiber.StatusUnauthorized, "unauthorized"},
		{accounts.ErrEmailNotVerified, fiber.StatusForbidden, "email_not_verified"},
		{ledger.ErrInvalidWindow, fiber.StatusBadRequest, "bad_request"},
		{accountstore.ErrNoIndex, fiber.StatusBadRequest, "bad_request"},
		{billing.ErrNotConfigured, fiber.StatusNotImplemented, "not_configured"},
		{errors.New("disk on fire"), fiber.StatusInternalServerError, "internal_server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.err.Error(), func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tt.err) })
			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAccountViewHidesSecrets(t *testing.T) {
	u := &models.User{
		ID:               "id-1",
		Email:            "a@example.com",
		PasswordHash:     "$2a$10$secret",
		VerificationCode: "123456",
		Plan:             models.PlanMonthly,
		Credits:          7,
	}
	view := accountView(u)
	for _, key := range []string{"passwordHash", "password_hash", "verificationCode", "verification_code"} {
		_, ok := view[key]
		assert.False(t, ok, key)
	}
	assert.Equal(t, true, view["has_password"])
	limits := view["limits"].(fiber.Map)
	assert.Equal(t, true, limits["has_chat_access"])
}
