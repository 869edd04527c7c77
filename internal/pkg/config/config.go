package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/env"
)

type Config struct {
	App          AppConfig
	Store        StoreConfig
	Redis        RedisConfig
	RESTKV       RESTKVConfig
	Session      SessionConfig
	Admin        AdminConfig
	Verification VerificationConfig
	Mail         MailConfig
	Billing      BillingConfig
	OAuth        OAuthConfig
	Captcha      CaptchaConfig
}

type AppConfig struct {
	Host         string
	Port         string
	PublicDomain string
	Dev          bool

	// RateLimitMax requests per RateLimitWindow and client IP on /api.
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// StoreConfig holds transport policy shared by both account backends.
type StoreConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	CASAttempts int
}

type RedisConfig struct {
	URL      string
	Host     string
	Port     string
	Username string
	Password string
	Database int
}

type RESTKVConfig struct {
	URL   string
	Token string
}

type SessionConfig struct {
	UserSecret  string
	UserTTL     time.Duration
	AdminSecret string
	AdminTTL    time.Duration
	SecureOnly  bool
}

type AdminConfig struct {
	Username     string
	Password     string
	PasswordHash string
}

type VerificationConfig struct {
	CodeTTL    time.Duration
	LinkTTL    time.Duration
	LinkSecret string
	LinkPath   string
}

type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

type BillingConfig struct {
	CheckoutURL    string
	APIKey         string
	MonthlyPriceID string
	YearlyPriceID  string
	WebhookSecret  string
	SuccessURL     string
	CancelURL      string
}

type OAuthConfig struct {
	GoogleKey     string
	GoogleSecret  string
	DiscordKey    string
	DiscordSecret string
}

// CaptchaConfig enables hCaptcha on sign-up when Secret is set.
type CaptchaConfig struct {
	Secret    string
	VerifyURL string
}

var ErrMisconfigured = errors.New("misconfigured")

// Load builds a typed Config from the environment. Call env.SetupEnvFile first
// when a .env file should be honoured.
func Load() *Config {
	host := env.GetEnv("APP_HOST", "localhost")
	port := env.GetEnv("APP_PORT", "4000")
	domain := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	if domain == "" {
		domain = fmt.Sprintf("http://%s:%s", host, port)
	}

	return &Config{
		App: AppConfig{
			Host:            host,
			Port:            port,
			PublicDomain:    domain,
			Dev:             env.IsDev(),
			RateLimitMax:    env.GetEnvInt("API_RATE_LIMIT", 60),
			RateLimitWindow: env.GetEnvDuration("API_RATE_WINDOW", time.Minute),
		},
		Store: StoreConfig{
			Timeout:     env.GetEnvDuration("STORE_TIMEOUT", 3*time.Second),
			MaxRetries:  env.GetEnvInt("STORE_MAX_RETRIES", 3),
			BaseBackoff: env.GetEnvDuration("STORE_BACKOFF_BASE", 50*time.Millisecond),
			MaxBackoff:  env.GetEnvDuration("STORE_BACKOFF_MAX", time.Second),
			CASAttempts: env.GetEnvInt("STORE_CAS_ATTEMPTS", 16),
		},
		Redis: RedisConfig{
			URL:      env.GetEnv("REDIS_URL", ""),
			Host:     env.GetEnv("CACHE_HOST", ""),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Username: env.GetEnv("CACHE_USERNAME", ""),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			Database: env.GetEnvInt("CACHE_DB", 0),
		},
		RESTKV: RESTKVConfig{
			URL:   strings.TrimRight(env.GetEnv("KV_REST_API_URL", ""), "/"),
			Token: env.GetEnv("KV_REST_API_TOKEN", ""),
		},
		Session: SessionConfig{
			UserSecret:  env.GetEnv("USER_SESSION_SECRET", ""),
			UserTTL:     env.GetEnvDuration("USER_SESSION_TTL", 7*24*time.Hour),
			AdminSecret: env.GetEnv("ADMIN_SESSION_SECRET", ""),
			AdminTTL:    env.GetEnvDuration("ADMIN_SESSION_TTL", 8*time.Hour),
			SecureOnly:  env.GetEnvBool("COOKIE_SECURE", !env.IsDev()),
		},
		Admin: AdminConfig{
			Username:     env.GetEnv("ADMIN_USERNAME", ""),
			Password:     env.GetEnv("ADMIN_PASSWORD", ""),
			PasswordHash: env.GetEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Verification: VerificationConfig{
			CodeTTL:    env.GetEnvDuration("VERIFICATION_CODE_TTL", 15*time.Minute),
			LinkTTL:    env.GetEnvDuration("VERIFICATION_LINK_TTL", 24*time.Hour),
			LinkSecret: env.GetEnv("VERIFICATION_LINK_SECRET", ""),
			LinkPath:   env.GetEnv("VERIFICATION_LINK_PATH", "/api/v1/auth/verify/link"),
		},
		Mail: MailConfig{
			Host:     env.GetEnv("SMTP_HOST", ""),
			Port:     env.GetEnv("SMTP_PORT", "587"),
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
			Sender:   env.GetEnv("SMTP_SENDER", ""),
		},
		Billing: BillingConfig{
			CheckoutURL:    env.GetEnv("BILLING_CHECKOUT_URL", ""),
			APIKey:         env.GetEnv("BILLING_API_KEY", ""),
			MonthlyPriceID: env.GetEnv("BILLING_PRICE_MONTHLY", ""),
			YearlyPriceID:  env.GetEnv("BILLING_PRICE_YEARLY", ""),
			WebhookSecret:  env.GetEnv("BILLING_WEBHOOK_SECRET", ""),
			SuccessURL:     env.GetEnv("BILLING_SUCCESS_URL", domain+"/billing/success"),
			CancelURL:      env.GetEnv("BILLING_CANCEL_URL", domain+"/billing/cancel"),
		},
		OAuth: OAuthConfig{
			GoogleKey:     env.GetEnv("GOOGLE_KEY", ""),
			GoogleSecret:  env.GetEnv("GOOGLE_SECRET", ""),
			DiscordKey:    env.GetEnv("DISCORD_KEY", ""),
			DiscordSecret: env.GetEnv("DISCORD_SECRET", ""),
		},
		Captcha: CaptchaConfig{
			Secret:    env.GetEnv("HCAPTCHA_SECRET", ""),
			VerifyURL: env.GetEnv("HCAPTCHA_VERIFY_URL", ""),
		},
	}
}

// UsesRESTKV reports whether the REST key-value backend is configured.
func (c *Config) UsesRESTKV() bool {
	return c.RESTKV.URL != "" && c.RESTKV.Token != ""
}

// UsesRedis reports whether a native Redis backend is configured.
func (c *Config) UsesRedis() bool {
	return c.Redis.URL != "" || c.Redis.Host != ""
}

// Validate reports settings the process cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if !c.UsesRESTKV() && !c.UsesRedis() {
		problems = append(problems, "no account backend (set KV_REST_API_URL+KV_REST_API_TOKEN or REDIS_URL/CACHE_HOST)")
	}
	if c.Session.UserSecret == "" || c.Session.AdminSecret == "" {
		problems = append(problems, "USER_SESSION_SECRET and ADMIN_SESSION_SECRET are required")
	} else if c.Session.UserSecret == c.Session.AdminSecret {
		problems = append(problems, "user and admin session secrets must differ")
	}
	if c.Verification.LinkSecret == "" {
		problems = append(problems, "VERIFICATION_LINK_SECRET is required")
	} else if c.Verification.LinkSecret == c.Session.UserSecret || c.Verification.LinkSecret == c.Session.AdminSecret {
		problems = append(problems, "verification link secret must not reuse a session secret")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMisconfigured, strings.Join(problems, "; "))
	}
	return nil
}
