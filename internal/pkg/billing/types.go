package billing

import (
	"errors"
	"time"

	"github.com/ManuelReschke/CiteCheck/app/models"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrNotConfigured    = errors.New("billing is not configured")
	ErrFreePlanCheckout = errors.New("free plan needs no checkout")
)

// PlanChangeEvent is the provider-neutral result of a verified webhook:
// apply Plan with the given window to the account with Email.
type PlanChangeEvent struct {
	EventID string
	Type    string
	Email   string
	Plan    models.Plan
	Status  string
	Start   *time.Time
	End     *time.Time
}

// webhookPayload is the JSON shape posted by the checkout provider.
type webhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		CustomerEmail      string `json:"customer_email"`
		PriceID            string `json:"price_id"`
		Plan               string `json:"plan"`
		Interval           string `json:"interval"`
		Status             string `json:"status"`
		CurrentPeriodStart int64  `json:"current_period_start"`
		CurrentPeriodEnd   int64  `json:"current_period_end"`
	} `json:"data"`
}
