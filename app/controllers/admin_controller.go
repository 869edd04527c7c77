package controllers

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/ledger"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/usercontext"
)

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type adminPlanRequest struct {
	Plan string `json:"plan"`
	// Start and End are RFC 3339 timestamps. Both are ignored for the free plan.
	Start string `json:"start"`
	End   string `json:"end"`
}

type adminCreditsRequest struct {
	Amount int `json:"amount"`
}

type adminRebuildRequest struct {
	Emails []string `json:"emails"`
}

func (h *Handlers) HandleAdminLogin(c *fiber.Ctx) error {
	var in adminLoginRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := h.Admins.Authenticate(in.Username, in.Password); err != nil {
		log.Warnf("[Admin] Failed login for %q from %s", in.Username, c.IP())
		return respondError(c, err)
	}
	token, expires, err := h.Admins.Issue(in.Username)
	if err != nil {
		return respondError(c, err)
	}
	h.Admins.SetCookie(c, token, expires)
	log.Infof("[Admin] %s logged in", in.Username)
	return c.JSON(fiber.Map{"username": in.Username, "expires_at": expires.UTC().Format(time.RFC3339)})
}

func (h *Handlers) HandleAdminLogout(c *fiber.Ctx) error {
	h.Admins.ClearCookie(c)
	return c.JSON(fiber.Map{"signed_out": true})
}

func (h *Handlers) HandleAdminUsers(c *fiber.Ctx) error {
	users, err := h.Store.List(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	out := make([]fiber.Map, 0, len(users))
	for _, u := range users {
		out = append(out, accountView(u))
	}
	return c.JSON(fiber.Map{"users": out, "count": len(out), "backend": h.Store.Backend()})
}

func (h *Handlers) HandleAdminUser(c *fiber.Ctx) error {
	email, ok := emailParam(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid email parameter")
	}
	u, err := h.Store.Get(c.UserContext(), email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(accountView(u))
}

func (h *Handlers) HandleAdminUserDelete(c *fiber.Ctx) error {
	email, ok := emailParam(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid email parameter")
	}
	if err := h.Store.Delete(c.UserContext(), email); err != nil {
		return respondError(c, err)
	}
	h.Stats.ResetCacheUpdateTimer()
	log.Infof("[Admin] %s deleted account %s", usercontext.GetAdminContext(c).Username, email)
	return c.JSON(fiber.Map{"deleted": true})
}

// HandleAdminUserUpdatePlan applies a manual plan change with a full allowance.
func (h *Handlers) HandleAdminUserUpdatePlan(c *fiber.Ctx) error {
	email, ok := emailParam(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid email parameter")
	}
	var in adminPlanRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	var (
		window ledger.Window
		err    error
	)
	if window.Start, err = parseOptionalTime(in.Start); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "start must be RFC 3339")
	}
	if window.End, err = parseOptionalTime(in.End); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "end must be RFC 3339")
	}

	u, err := h.Ledger.ApplyPlanChange(c.UserContext(), email, models.ParsePlan(in.Plan), window)
	if err != nil {
		return respondError(c, err)
	}
	h.Stats.ResetCacheUpdateTimer()
	return c.JSON(accountView(u))
}

func (h *Handlers) HandleAdminUserGrantCredits(c *fiber.Ctx) error {
	email, ok := emailParam(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid email parameter")
	}
	var in adminCreditsRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	u, err := h.Ledger.GrantCredits(c.UserContext(), email, in.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(accountView(u))
}

// HandleAdminRebuildIndex rebuilds the secondary index from the given emails,
// or from the current index entries when none are given.
func (h *Handlers) HandleAdminRebuildIndex(c *fiber.Ctx) error {
	var in adminRebuildRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
		}
	}
	candidates := in.Emails
	if len(candidates) == 0 {
		users, err := h.Store.List(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		for _, u := range users {
			candidates = append(candidates, u.Email)
		}
	}
	n, err := h.Store.RebuildIndex(c.UserContext(), candidates)
	if err != nil {
		return respondError(c, err)
	}
	h.Stats.ResetCacheUpdateTimer()
	return c.JSON(fiber.Map{"indexed": n, "candidates": len(candidates)})
}

func (h *Handlers) HandleAdminStats(c *fiber.Ctx) error {
	data, err := h.Stats.GetStatisticsData(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(data)
}

func emailParam(c *fiber.Ctx) (string, bool) {
	raw, err := url.PathUnescape(c.Params("email"))
	if err != nil {
		return "", false
	}
	email := models.NormalizeEmail(raw)
	return email, email != ""
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
