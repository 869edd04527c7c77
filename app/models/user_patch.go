package models

import "time"

// UserPatch carries a partial update. Nil fields are left untouched.
// Clear* flags reset optional fields to absent.
type UserPatch struct {
	Name                  *string
	Image                 *string
	PasswordHash          *string
	Provider              *string
	ProviderID            *string
	Plan                  *Plan
	Credits               *int
	CreditsResetDate      *time.Time
	SubscriptionStartDate *time.Time
	SubscriptionEndDate   *time.Time
	ClearSubscription     bool
	EmailVerified         *bool
	VerificationCode      *string
	VerificationExpires   *time.Time
	ClearVerification     bool
	LastLoginAt           *time.Time
}

// Apply merges the patch into u and re-normalizes the record.
func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Image != nil {
		u.Image = *p.Image
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.Provider != nil {
		u.Provider = *p.Provider
	}
	if p.ProviderID != nil {
		u.ProviderID = *p.ProviderID
	}
	if p.Plan != nil {
		u.Plan = *p.Plan
	}
	if p.Credits != nil {
		u.Credits = *p.Credits
	}
	if p.CreditsResetDate != nil {
		u.CreditsResetDate = *p.CreditsResetDate
	}
	if p.ClearSubscription {
		u.SubscriptionStartDate = nil
		u.SubscriptionEndDate = nil
	}
	if p.SubscriptionStartDate != nil {
		u.SubscriptionStartDate = cloneTime(p.SubscriptionStartDate)
	}
	if p.SubscriptionEndDate != nil {
		u.SubscriptionEndDate = cloneTime(p.SubscriptionEndDate)
	}
	if p.ClearVerification {
		u.ClearVerificationCode()
	}
	if p.VerificationCode != nil {
		u.VerificationCode = *p.VerificationCode
	}
	if p.VerificationExpires != nil {
		u.VerificationExpires = cloneTime(p.VerificationExpires)
	}
	if p.EmailVerified != nil {
		// verified never reverts
		u.EmailVerified = u.EmailVerified || *p.EmailVerified
	}
	if p.LastLoginAt != nil {
		u.LastLoginAt = cloneTime(p.LastLoginAt)
	}
	u.Normalize()
}

// StringPtr is a small helper for building patches.
func StringPtr(s string) *string { return &s }

func TimePtr(t time.Time) *time.Time { return &t }
