// Package accounts implements sign-up, password sign-in and federated login on
// top of the account store.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/ledger"
)

var (
	// ErrInvalidCredentials covers unknown accounts and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrInvalidInput       = errors.New("invalid input")
	ErrMissingEmail       = errors.New("provider did not return an email address")
	// ErrVerificationPending is returned when someone signs up again while an
	// earlier code for the same address is still valid.
	ErrVerificationPending = fmt.Errorf("%w: a verification code is still pending for this email", accountstore.ErrConflict)
)

// CodeRequester sends a verification code for an unverified account.
type CodeRequester interface {
	RequestCode(ctx context.Context, email string) error
}

type SignUpInput struct {
	Name     string `json:"name" validate:"max=150"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// SignUpResult reports whether the first verification code went out. The
// account exists either way and the code can be requested again.
type SignUpResult struct {
	User     *models.User
	CodeSent bool
}

// Identity is what an external provider tells us about a user.
type Identity struct {
	Provider   string
	ProviderID string
	Email      string
	Name       string
	Image      string
}

type Service struct {
	store    accountstore.Store
	ledger   *ledger.Ledger
	codes    CodeRequester
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store accountstore.Store, l *ledger.Ledger, codes CodeRequester) *Service {
	return &Service{
		store:    store,
		ledger:   l,
		codes:    codes,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SignUp creates an unverified free account and sends its first code.
// A verified account is never replaced. An unverified one is replaced only
// once its pending code has expired.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*SignUpResult, error) {
	in.Email = models.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	existing, err := s.store.Get(ctx, in.Email)
	switch {
	case err == nil:
		if existing.EmailVerified {
			return nil, fmt.Errorf("%w: %s", accountstore.ErrConflict, in.Email)
		}
		if existing.HasPendingVerification(s.now()) {
			return nil, ErrVerificationPending
		}
	case errors.Is(err, accountstore.ErrNotFound):
	default:
		return nil, err
	}

	u, err := models.NewPasswordUser(in.Name, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = s.now()
	s.ledger.InitializeCredits(u)
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	log.Infof("[Accounts] Signed up %s", u.Email)

	res := &SignUpResult{User: u}
	if err := s.codes.RequestCode(ctx, u.Email); err != nil {
		log.Errorf("[Accounts] Verification code for %s not sent: %v", u.Email, err)
		return res, nil
	}
	res.CodeSent = true
	return res, nil
}

// SignIn checks the password and stamps the last login time.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.store.Get(ctx, email)
	if errors.Is(err, accountstore.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}
	if !u.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	return s.store.Update(ctx, u.Email, models.UserPatch{LastLoginAt: models.TimePtr(s.now())})
}

// FederatedLogin signs in an external identity. An existing account with the
// same email gets the provider linked and counts as verified. A password set on
// a still unverified record is dropped. Otherwise a new verified free account
// is created.
func (s *Service) FederatedLogin(ctx context.Context, id Identity) (*models.User, error) {
	email := models.NormalizeEmail(id.Email)
	if email == "" {
		return nil, ErrMissingEmail
	}

	u, err := s.linkExisting(ctx, email, id)
	if err == nil || !errors.Is(err, accountstore.ErrNotFound) {
		return u, err
	}

	u = models.NewFederatedUser(firstNonEmpty(id.Name, email), email, id.Image, id.Provider, id.ProviderID)
	now := s.now()
	u.CreatedAt = now
	u.LastLoginAt = &now
	s.ledger.InitializeCredits(u)
	err = s.store.Create(ctx, u)
	if errors.Is(err, accountstore.ErrConflict) {
		// someone verified the address between our read and write
		return s.linkExisting(ctx, email, id)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("[Accounts] Created %s via %s", u.Email, id.Provider)
	return u, nil
}

func (s *Service) linkExisting(ctx context.Context, email string, id Identity) (*models.User, error) {
	return s.store.Mutate(ctx, email, func(u *models.User) error {
		if u.Provider != id.Provider || u.ProviderID != id.ProviderID {
			u.LinkProvider(id.Provider, id.ProviderID)
		}
		if u.Image == "" {
			u.Image = id.Image
		}
		if !u.EmailVerified {
			// nobody proved control of the address when this password was set
			u.PasswordHash = ""
		}
		u.MarkVerified()
		now := s.now()
		u.LastLoginAt = &now
		return nil
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
