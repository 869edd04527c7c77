package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
)

// CheckoutClient opens hosted checkout sessions with the payment provider.
type CheckoutClient struct {
	CheckoutURL string
	APIKey      string
	SuccessURL  string
	CancelURL   string
	PriceIDs    map[models.Plan]string

	HTTPClient *http.Client
}

type checkoutRequest struct {
	PriceID       string `json:"price_id"`
	CustomerEmail string `json:"customer_email"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
	Plan          string `json:"plan"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

func NewCheckoutClient(cfg config.BillingConfig) *CheckoutClient {
	return &CheckoutClient{
		CheckoutURL: strings.TrimSpace(cfg.CheckoutURL),
		APIKey:      strings.TrimSpace(cfg.APIKey),
		SuccessURL:  cfg.SuccessURL,
		CancelURL:   cfg.CancelURL,
		PriceIDs: map[models.Plan]string{
			models.PlanMonthly: strings.TrimSpace(cfg.MonthlyPriceID),
			models.PlanYearly:  strings.TrimSpace(cfg.YearlyPriceID),
		},
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckoutSession returns the provider URL the customer is redirected to.
func (c *CheckoutClient) CreateCheckoutSession(ctx context.Context, plan models.Plan, email string) (string, error) {
	if c.CheckoutURL == "" || c.APIKey == "" {
		return "", fmt.Errorf("%w: BILLING_CHECKOUT_URL/BILLING_API_KEY are not set", ErrNotConfigured)
	}
	plan = normalizePlan(string(plan))
	if !plan.IsPaid() {
		return "", ErrFreePlanCheckout
	}
	priceID := c.PriceIDs[plan]
	if priceID == "" {
		return "", fmt.Errorf("%w: no price configured for plan %s", ErrNotConfigured, plan)
	}
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", errors.New("customer email is required")
	}

	payload, err := json.Marshal(checkoutRequest{
		PriceID:       priceID,
		CustomerEmail: email,
		SuccessURL:    c.SuccessURL,
		CancelURL:     c.CancelURL,
		Plan:          string(plan),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.CheckoutURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("checkout session request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out checkoutResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", errors.New("checkout session returned empty url")
	}
	return out.URL, nil
}
