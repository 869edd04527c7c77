// Package ledger enforces credit balances and plan changes on account records.
// Every operation is one compare-and-set unit on the account key, so a due
// reset and the consumption that follows it can never be split by a concurrent caller.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/entitlements"
)

var (
	ErrInsufficientCredits = errors.New("no credits left")
	ErrInvalidWindow       = errors.New("subscription end precedes start")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
)

// Window is a subscription period. Both ends are optional.
type Window struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

type Ledger struct {
	store accountstore.Store
	now   func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(store accountstore.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ConsumeCredit applies a due reset and then takes one credit.
func (l *Ledger) ConsumeCredit(ctx context.Context, email string) (*models.User, error) {
	u, err := l.store.Mutate(ctx, email, func(u *models.User) error {
		now := l.now()
		applyDueReset(u, now)
		if u.Credits <= 0 {
			return ErrInsufficientCredits
		}
		u.Credits--
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientCredits) && !errors.Is(err, accountstore.ErrNotFound) {
			log.Errorf("[Ledger] Consume credit for %s failed: %v", models.NormalizeEmail(email), err)
		}
		return nil, err
	}
	return u, nil
}

// Balance returns the record for display, persisting a due reset first.
// Nothing is written when no reset is due.
func (l *Ledger) Balance(ctx context.Context, email string) (*models.User, error) {
	return l.store.Mutate(ctx, email, func(u *models.User) error {
		if !applyDueReset(u, l.now()) {
			return accountstore.ErrSkipWrite
		}
		return nil
	})
}

// ApplyPlanChange moves the account onto plan with a full allowance for it.
// Downgrading to free clears the subscription window.
func (l *Ledger) ApplyPlanChange(ctx context.Context, email string, plan models.Plan, window Window) (*models.User, error) {
	if window.Start != nil && window.End != nil && window.End.Before(*window.Start) {
		return nil, ErrInvalidWindow
	}
	plan = models.ParsePlan(string(plan))
	limits := entitlements.GetPlanLimits(plan)

	u, err := l.store.Mutate(ctx, email, func(u *models.User) error {
		now := l.now()
		u.Plan = plan
		u.Credits = limits.MaxCredits
		u.CreditsResetDate = limits.ResetCadence.After(now)
		if plan == models.PlanFree {
			u.SubscriptionStartDate = nil
			u.SubscriptionEndDate = nil
			return nil
		}
		u.SubscriptionStartDate = copyTime(window.Start)
		u.SubscriptionEndDate = copyTime(window.End)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Ledger] Plan for %s set to %s", u.Email, u.Plan)
	return u, nil
}

// SyncPlan applies a provider's view of the subscription. A delivery that
// repeats the current plan and window changes nothing, so retried or replayed
// webhooks never refill the balance. A renewal moves the window and refills.
func (l *Ledger) SyncPlan(ctx context.Context, email string, plan models.Plan, window Window) (u *models.User, changed bool, err error) {
	if window.Start != nil && window.End != nil && window.End.Before(*window.Start) {
		return nil, false, ErrInvalidWindow
	}
	plan = models.ParsePlan(string(plan))
	limits := entitlements.GetPlanLimits(plan)

	u, err = l.store.Mutate(ctx, email, func(u *models.User) error {
		changed = false
		if plan == models.PlanFree {
			window = Window{}
		}
		if u.Plan == plan && sameTime(u.SubscriptionStartDate, window.Start) && sameTime(u.SubscriptionEndDate, window.End) {
			return accountstore.ErrSkipWrite
		}
		now := l.now()
		u.Plan = plan
		u.Credits = limits.MaxCredits
		u.CreditsResetDate = limits.ResetCadence.After(now)
		u.SubscriptionStartDate = copyTime(window.Start)
		u.SubscriptionEndDate = copyTime(window.End)
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		log.Infof("[Ledger] Plan for %s synced to %s", u.Email, u.Plan)
	}
	return u, changed, nil
}

// GrantCredits adds n credits on top of the current balance, after any due reset.
func (l *Ledger) GrantCredits(ctx context.Context, email string, n int) (*models.User, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, n)
	}
	u, err := l.store.Mutate(ctx, email, func(u *models.User) error {
		applyDueReset(u, l.now())
		u.Credits += n
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Ledger] Granted %d credits to %s (balance %d)", n, u.Email, u.Credits)
	return u, nil
}

// InitializeCredits prepares a brand-new record with its plan's full allowance.
func (l *Ledger) InitializeCredits(u *models.User) {
	limits := entitlements.GetPlanLimits(u.Plan)
	u.Credits = limits.MaxCredits
	u.CreditsResetDate = limits.ResetCadence.After(l.now())
}

// applyDueReset refills the balance when the reset date has been reached and
// moves the reset date to the first boundary after now. It reports whether u changed.
func applyDueReset(u *models.User, now time.Time) bool {
	limits := entitlements.GetPlanLimits(u.Plan)
	if u.CreditsResetDate.IsZero() {
		u.Credits = limits.MaxCredits
		u.CreditsResetDate = limits.ResetCadence.After(now)
		return true
	}
	if now.Before(u.CreditsResetDate) {
		return false
	}
	u.Credits = limits.MaxCredits
	u.CreditsResetDate = limits.ResetCadence.NextResetAfter(u.CreditsResetDate, now)
	return true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
