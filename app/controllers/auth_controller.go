package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/accounts"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/usercontext"
)

type signUpRequest struct {
	accounts.SignUpInput
	CaptchaToken string `json:"captcha_token"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type requestVerificationRequest struct {
	Email string `json:"email"`
	// Mode is "code" (default) or "link".
	Mode string `json:"mode"`
}

// HandleSignUp creates an unverified account and sends the first code.
func (h *Handlers) HandleSignUp(c *fiber.Ctx) error {
	var in signUpRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if h.Captcha != nil {
		if err := h.Captcha.Verify(c.UserContext(), in.CaptchaToken, c.IP()); err != nil {
			return respondError(c, err)
		}
	}
	res, err := h.Accounts.SignUp(c.UserContext(), in.SignUpInput)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"account":   accountView(res.User),
		"code_sent": res.CodeSent,
	})
}

func (h *Handlers) HandleSignIn(c *fiber.Ctx) error {
	var in signInRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	u, err := h.Accounts.SignIn(c.UserContext(), in.Email, in.Password)
	if err != nil {
		return respondError(c, err)
	}
	out, err := h.issueUserSession(c, u)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// HandleSignOut clears the cookie. Anonymous callers get the same answer.
func (h *Handlers) HandleSignOut(c *fiber.Ctx) error {
	if usercontext.IsLoggedIn(c) {
		log.Infof("[Auth] %s signed out", usercontext.GetEmail(c))
	}
	h.Users.ClearCookie(c)
	return c.JSON(fiber.Map{"signed_out": true, "was_signed_in": usercontext.IsLoggedIn(c)})
}

// HandleVerifyCode confirms a code and signs the user in. An account that was
// already verified gets no session here, only a password or provider sign-in.
func (h *Handlers) HandleVerifyCode(c *fiber.Ctx) error {
	var in verifyCodeRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	u, verified, err := h.Verification.ConfirmCode(c.UserContext(), in.Email, strings.TrimSpace(in.Code))
	if err != nil {
		return respondError(c, err)
	}
	if !verified {
		return c.JSON(fiber.Map{"verified": true})
	}
	out, err := h.issueUserSession(c, u)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// HandleRequestVerification answers 202 for unknown addresses too.
func (h *Handlers) HandleRequestVerification(c *fiber.Ctx) error {
	var in requestVerificationRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	var err error
	switch strings.ToLower(strings.TrimSpace(in.Mode)) {
	case "", "code":
		err = h.Verification.RequestCode(c.UserContext(), in.Email)
	case "link":
		err = h.Verification.RequestLink(c.UserContext(), in.Email)
	default:
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "mode must be code or link")
	}
	if err != nil && !errors.Is(err, accountstore.ErrNotFound) {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"requested": true})
}

func (h *Handlers) HandleVerifyLink(c *fiber.Ctx) error {
	u, err := h.Verification.ConfirmLink(c.UserContext(), c.Query("token"))
	if err != nil {
		return respondError(c, err)
	}
	out, err := h.issueUserSession(c, u)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}
