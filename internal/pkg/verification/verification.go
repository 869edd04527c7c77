// Package verification proves ownership of an email address, either with a
// short numeric code stored on the account or with a signed link.
package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
)

// ErrInvalidOrExpiredVerification is deliberately uniform: wrong code, expired
// code, missing code, bad link and unknown account all look the same.
var ErrInvalidOrExpiredVerification = errors.New("invalid or expired verification")

type Message struct {
	Code      string
	Link      string
	ExpiresAt time.Time
}

type Sender interface {
	SendVerificationMessage(ctx context.Context, email string, msg Message) error
}

// LinkProvider issues and checks opaque magic-link tokens.
type LinkProvider interface {
	IssueLinkToken(email string) (string, time.Time, error)
	VerifyLinkToken(token string) (string, error)
}

type Options struct {
	CodeTTL time.Duration
	// LinkBaseURL is the absolute URL the token is appended to as ?token=.
	LinkBaseURL string
}

type Service struct {
	store   accountstore.Store
	sender  Sender
	links   LinkProvider
	codeTTL time.Duration
	linkURL string
	now     func() time.Time
}

func NewService(store accountstore.Store, sender Sender, links LinkProvider, opts Options) *Service {
	ttl := opts.CodeTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		store:   store,
		sender:  sender,
		links:   links,
		codeTTL: ttl,
		linkURL: opts.LinkBaseURL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RequestCode stores a fresh code on the account and sends it. A verified
// account is left alone and nothing is sent.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	var (
		code    string
		expires time.Time
	)
	u, err := s.store.Mutate(ctx, email, func(u *models.User) error {
		if u.EmailVerified {
			return accountstore.ErrSkipWrite
		}
		now := s.now()
		c, err := u.GenerateVerificationCode(now, s.codeTTL)
		if err != nil {
			return err
		}
		code, expires = c, now.Add(s.codeTTL)
		return nil
	})
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return nil
	}
	if err := s.sender.SendVerificationMessage(ctx, u.Email, Message{Code: code, ExpiresAt: expires}); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}
	return nil
}

// ConfirmCode marks the account verified when code matches the stored, unexpired code.
// Confirming an already verified account succeeds without changes and reports
// verified=false, since the code was never checked.
func (s *Service) ConfirmCode(ctx context.Context, email, code string) (u *models.User, verified bool, err error) {
	u, err = s.store.Mutate(ctx, email, func(u *models.User) error {
		verified = false
		if u.EmailVerified {
			return accountstore.ErrSkipWrite
		}
		if u.VerificationCode == "" || u.VerificationExpires == nil || code == "" {
			return ErrInvalidOrExpiredVerification
		}
		if subtle.ConstantTimeCompare([]byte(u.VerificationCode), []byte(code)) != 1 {
			return ErrInvalidOrExpiredVerification
		}
		if !s.now().Before(*u.VerificationExpires) {
			return ErrInvalidOrExpiredVerification
		}
		u.MarkVerified()
		verified = true
		return nil
	})
	if errors.Is(err, accountstore.ErrNotFound) {
		return nil, false, ErrInvalidOrExpiredVerification
	}
	if err != nil {
		return nil, false, err
	}
	return u, verified, nil
}

// RequestLink sends a magic link for an unverified account.
func (s *Service) RequestLink(ctx context.Context, email string) error {
	u, err := s.store.Get(ctx, email)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return nil
	}
	token, expires, err := s.links.IssueLinkToken(u.Email)
	if err != nil {
		return fmt.Errorf("issue link token: %w", err)
	}
	link, err := s.buildLink(token)
	if err != nil {
		return err
	}
	if err := s.sender.SendVerificationMessage(ctx, u.Email, Message{Link: link, ExpiresAt: expires}); err != nil {
		return fmt.Errorf("send verification link: %w", err)
	}
	return nil
}

// ConfirmLink verifies the account named by a valid link token.
func (s *Service) ConfirmLink(ctx context.Context, token string) (*models.User, error) {
	email, err := s.links.VerifyLinkToken(token)
	if err != nil {
		return nil, ErrInvalidOrExpiredVerification
	}
	u, err := s.store.Mutate(ctx, email, func(u *models.User) error {
		if u.EmailVerified {
			return accountstore.ErrSkipWrite
		}
		u.MarkVerified()
		return nil
	})
	if errors.Is(err, accountstore.ErrNotFound) {
		return nil, ErrInvalidOrExpiredVerification
	}
	if err != nil {
		return nil, err
	}
	log.Infof("[Verification] %s verified by link", u.Email)
	return u, nil
}

func (s *Service) buildLink(token string) (string, error) {
	base, err := url.Parse(s.linkURL)
	if err != nil {
		return "", fmt.Errorf("parse verification link base: %w", err)
	}
	q := base.Query()
	q.Set("token", token)
	base.RawQuery = q.Encode()
	return base.String(), nil
}
