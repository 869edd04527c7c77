package entitlements

import (
	"time"

	"github.com/ManuelReschke/CiteCheck/app/models"
)

type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceMonthly Cadence = "monthly"
)

// Limits is what a plan allows per reset period.
type Limits struct {
	MaxCredits    int     `json:"maxCredits"`
	HasChatAccess bool    `json:"hasChatAccess"`
	ResetCadence  Cadence `json:"resetCadence"`
}

var planLimits = map[models.Plan]Limits{
	models.PlanFree:    {MaxCredits: 3, HasChatAccess: false, ResetCadence: CadenceDaily},
	models.PlanMonthly: {MaxCredits: 100, HasChatAccess: true, ResetCadence: CadenceMonthly},
	// yearly subscribers still get a monthly allowance
	models.PlanYearly: {MaxCredits: 100, HasChatAccess: true, ResetCadence: CadenceMonthly},
}

// GetPlanLimits returns the allowance for plan. Unknown plans get the free limits.
func GetPlanLimits(plan models.Plan) Limits {
	return planLimits[models.ParsePlan(string(plan))]
}

// After returns the first reset boundary of this cadence after from.
func (c Cadence) After(from time.Time) time.Time {
	return c.step(from, 1)
}

// NextResetAfter advances anchor by whole periods until the result is strictly
// after now. Dates keep the anchor's time of day and, for monthly cadence, its
// day of month (clamped to shorter months).
func (c Cadence) NextResetAfter(anchor, now time.Time) time.Time {
	if anchor.After(now) {
		return anchor
	}
	k := 1
	if c == CadenceDaily {
		// skip most of a long dormant stretch in one go
		if days := int(now.Sub(anchor) / (24 * time.Hour)); days > 1 {
			k = days
		}
	}
	for {
		next := c.step(anchor, k)
		if next.After(now) {
			return next
		}
		k++
	}
}

func (c Cadence) step(anchor time.Time, k int) time.Time {
	if c == CadenceMonthly {
		return addMonthsClamped(anchor, k)
	}
	return anchor.AddDate(0, 0, k)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
