package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
)

// WebhookVerifier authenticates checkout webhooks and reduces them to plan changes.
type WebhookVerifier struct {
	secret string
	prices map[string]models.Plan
}

func NewWebhookVerifier(cfg config.BillingConfig) *WebhookVerifier {
	prices := make(map[string]models.Plan)
	if id := strings.TrimSpace(cfg.MonthlyPriceID); id != "" {
		prices[id] = models.PlanMonthly
	}
	if id := strings.TrimSpace(cfg.YearlyPriceID); id != "" {
		prices[id] = models.PlanYearly
	}
	return &WebhookVerifier{secret: cfg.WebhookSecret, prices: prices}
}

// VerifyAndParse checks the signature over the raw body, then decodes it.
// Subscriptions in a non-entitling state map to the free plan.
func (v *WebhookVerifier) VerifyAndParse(raw []byte, signature string) (*PlanChangeEvent, error) {
	if strings.TrimSpace(v.secret) == "" {
		return nil, ErrNotConfigured
	}
	if !VerifyWebhookSignature(raw, signature, v.secret) {
		return nil, ErrInvalidSignature
	}

	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	email := models.NormalizeEmail(p.Data.CustomerEmail)
	if email == "" {
		return nil, fmt.Errorf("%w: missing customer_email", ErrInvalidPayload)
	}

	evt := &PlanChangeEvent{
		EventID: p.ID,
		Type:    p.Type,
		Email:   email,
		Status:  strings.ToLower(strings.TrimSpace(p.Data.Status)),
		Start:   unixPtr(p.Data.CurrentPeriodStart),
		End:     unixPtr(p.Data.CurrentPeriodEnd),
	}
	if evt.Start != nil && evt.End != nil && evt.End.Before(*evt.Start) {
		return nil, fmt.Errorf("%w: period ends before it starts", ErrInvalidPayload)
	}

	if !isEntitlingStatus(evt.Status) {
		evt.Plan = models.PlanFree
		evt.Start, evt.End = nil, nil
		return evt, nil
	}
	evt.Plan = v.resolvePlan(p)
	return evt, nil
}

func (v *WebhookVerifier) resolvePlan(p webhookPayload) models.Plan {
	if plan, ok := v.prices[strings.TrimSpace(p.Data.PriceID)]; ok {
		return plan
	}
	if p.Data.Plan != "" {
		return normalizePlan(p.Data.Plan)
	}
	return planForInterval(p.Data.Interval)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
