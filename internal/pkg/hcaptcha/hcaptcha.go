package hcaptcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultVerifyURL = "https://hcaptcha.com/siteverify"

var ErrCaptchaFailed = errors.New("captcha validation failed")

type Response struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Verifier checks hCaptcha tokens submitted with sign-ups.
type Verifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// New returns nil when secret is empty, which disables the check.
func New(secret, verifyURL string) *Verifier {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &Verifier{secret: secret, verifyURL: verifyURL, client: &http.Client{Timeout: 5 * time.Second}}
}

func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return fmt.Errorf("%w: token is empty", ErrCaptchaFailed)
	}

	formData := url.Values{
		"secret":   {v.secret},
		"response": {token},
	}
	if remoteIP != "" {
		formData.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to hCaptcha API: %w", err)
	}
	defer resp.Body.Close()

	var response Response
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode hCaptcha API response: %w", err)
	}

	if !response.Success {
		if len(response.ErrorCodes) > 0 {
			return fmt.Errorf("%w: %s", ErrCaptchaFailed, strings.Join(response.ErrorCodes, ", "))
		}
		return ErrCaptchaFailed
	}
	return nil
}
