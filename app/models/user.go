package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
)

// ParsePlan maps arbitrary input onto the closed plan set. Unknown values become free.
func ParsePlan(raw string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanMonthly:
		return PlanMonthly
	case PlanYearly:
		return PlanYearly
	default:
		return PlanFree
	}
}

// IsPaid reports whether the plan carries a subscription window.
func (p Plan) IsPaid() bool {
	return p == PlanMonthly || p == PlanYearly
}

const verificationCodeDigits = 6

type User struct {
	ID                    string     `json:"id" validate:"required"`
	Email                 string     `json:"email" validate:"required,email,max=254"`
	Name                  string     `json:"name" validate:"max=150"`
	PasswordHash          string     `json:"passwordHash,omitempty"`
	Provider              string     `json:"provider,omitempty"`
	ProviderID            string     `json:"providerId,omitempty"`
	Image                 string     `json:"image,omitempty" validate:"omitempty,max=2048"`
	Plan                  Plan       `json:"plan" validate:"oneof=free monthly yearly"`
	Credits               int        `json:"credits" validate:"gte=0"`
	CreditsResetDate      time.Time  `json:"creditsResetDate"`
	SubscriptionStartDate *time.Time `json:"subscriptionStartDate,omitempty"`
	SubscriptionEndDate   *time.Time `json:"subscriptionEndDate,omitempty"`
	EmailVerified         bool       `json:"emailVerified"`
	VerificationCode      string     `json:"verificationCode,omitempty"`
	VerificationExpires   *time.Time `json:"verificationExpires,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	LastLoginAt           *time.Time `json:"lastLogin,omitempty"`
}

var validate = validator.New()

// NormalizeEmail is applied to every email before it touches a store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *User) Validate() error {
	if err := validate.Struct(u); err != nil {
		return err
	}
	if u.PasswordHash == "" && (u.Provider == "" || u.ProviderID == "") {
		return fmt.Errorf("user %s has no authentication method", u.Email)
	}
	if u.SubscriptionStartDate != nil && u.SubscriptionEndDate != nil &&
		u.SubscriptionEndDate.Before(*u.SubscriptionStartDate) {
		return fmt.Errorf("subscription end precedes start for %s", u.Email)
	}
	return nil
}

// Normalize enforces the record invariants that can be repaired without a decision:
// email casing, credit floor, plan set, free-plan window and verified-code exclusivity.
func (u *User) Normalize() {
	u.Email = NormalizeEmail(u.Email)
	u.Plan = ParsePlan(string(u.Plan))
	if u.Credits < 0 {
		u.Credits = 0
	}
	if u.Plan == PlanFree {
		u.SubscriptionStartDate = nil
		u.SubscriptionEndDate = nil
	}
	if u.EmailVerified {
		u.ClearVerificationCode()
	}
}

// NewPasswordUser builds an unverified free-plan record with a bcrypt password hash.
// Credits and reset date are left for the ledger to initialise.
func NewPasswordUser(name, email, password string) (*User, error) {
	u := &User{
		ID:        uuid.NewString(),
		Email:     NormalizeEmail(email),
		Name:      strings.TrimSpace(name),
		Plan:      PlanFree,
		CreatedAt: time.Now().UTC(),
	}
	if err := u.SetPassword(password); err != nil {
		return nil, err
	}
	return u, nil
}

// NewFederatedUser builds a record for a first provider login. The provider has
// already proven ownership of the address, so the record starts verified.
func NewFederatedUser(name, email, image, provider, providerID string) *User {
	return &User{
		ID:            uuid.NewString(),
		Email:         NormalizeEmail(email),
		Name:          strings.TrimSpace(name),
		Image:         image,
		Provider:      provider,
		ProviderID:    providerID,
		Plan:          PlanFree,
		EmailVerified: true,
		CreatedAt:     time.Now().UTC(),
	}
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// CheckPassword verifies if the provided password matches the user's stored password
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.PasswordHash)
}

// SetPassword hashes and sets a new password for the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hashedPassword
	return nil
}

// LinkProvider attaches an external identity to an existing record.
func (u *User) LinkProvider(provider, providerID string) {
	u.Provider = provider
	u.ProviderID = providerID
}

// GenerateVerificationCode sets a fresh numeric code valid for ttl and returns it.
func (u *User) GenerateVerificationCode(now time.Time, ttl time.Duration) (string, error) {
	code, err := randomDigits(verificationCodeDigits)
	if err != nil {
		return "", err
	}
	expires := now.Add(ttl)
	u.VerificationCode = code
	u.VerificationExpires = &expires
	return code, nil
}

// HasPendingVerification reports an unexpired code on an unverified record.
func (u *User) HasPendingVerification(now time.Time) bool {
	if u.EmailVerified || u.VerificationCode == "" || u.VerificationExpires == nil {
		return false
	}
	return now.Before(*u.VerificationExpires)
}

// ClearVerificationCode drops the pending code and its expiry.
func (u *User) ClearVerificationCode() {
	u.VerificationCode = ""
	u.VerificationExpires = nil
}

// MarkVerified is terminal: the record never returns to unverified.
func (u *User) MarkVerified() {
	u.EmailVerified = true
	u.ClearVerificationCode()
}

func (u *User) Clone() *User {
	c := *u
	c.SubscriptionStartDate = cloneTime(u.SubscriptionStartDate)
	c.SubscriptionEndDate = cloneTime(u.SubscriptionEndDate)
	c.VerificationExpires = cloneTime(u.VerificationExpires)
	c.LastLoginAt = cloneTime(u.LastLoginAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func randomDigits(n int) (string, error) {
	var sb strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}
