package statistics

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
)

const DefaultRefreshInterval = 5 * time.Minute

// StatisticsData is the account overview shown on the admin dashboard.
type StatisticsData struct {
	TotalUsers      int                 `json:"totalUsers"`
	VerifiedUsers   int                 `json:"verifiedUsers"`
	UnverifiedUsers int                 `json:"unverifiedUsers"`
	FederatedUsers  int                 `json:"federatedUsers"`
	TodaySignups    int                 `json:"todaySignups"`
	UsersByPlan     map[models.Plan]int `json:"usersByPlan"`
	ComputedAt      time.Time           `json:"computedAt"`
}

// Collector computes statistics from the account store and keeps the last
// result for the refresh interval.
type Collector struct {
	store    accountstore.Store
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	last        *StatisticsData
	lastUpdated time.Time
}

func NewCollector(store accountstore.Store, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Collector{store: store, interval: interval, now: time.Now}
}

// shouldUpdateCache reports whether the cached result is older than the
// interval. Callers hold mu.
func (c *Collector) shouldUpdateCache(now time.Time) bool {
	return c.last == nil || now.Sub(c.lastUpdated) > c.interval
}

// ResetCacheUpdateTimer forces the next Get to recompute.
func (c *Collector) ResetCacheUpdateTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdated = time.Time{}
	c.last = nil
}

// GetStatisticsData returns the cached result or recomputes it. A failed
// recompute falls back to the previous result when one exists.
func (c *Collector) GetStatisticsData(ctx context.Context) (StatisticsData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.shouldUpdateCache(now) {
		return *c.last, nil
	}

	users, err := c.store.List(ctx)
	if err != nil {
		if c.last != nil {
			log.Warnf("[Statistics] Refresh failed, serving previous result: %v", err)
			return *c.last, nil
		}
		return StatisticsData{}, err
	}

	data := Compute(users, now)
	c.last = &data
	c.lastUpdated = now
	log.Infof("[Statistics] Updated: total=%d verified=%d today=%d", data.TotalUsers, data.VerifiedUsers, data.TodaySignups)
	return data, nil
}

// Compute aggregates a user list. Today is the UTC calendar day of now.
func Compute(users []*models.User, now time.Time) StatisticsData {
	data := StatisticsData{
		UsersByPlan: map[models.Plan]int{
			models.PlanFree:    0,
			models.PlanMonthly: 0,
			models.PlanYearly:  0,
		},
		ComputedAt: now,
	}
	todayStart := now.UTC().Truncate(24 * time.Hour)
	todayEnd := todayStart.Add(24 * time.Hour)

	for _, u := range users {
		data.TotalUsers++
		if u.EmailVerified {
			data.VerifiedUsers++
		} else {
			data.UnverifiedUsers++
		}
		if u.Provider != "" {
			data.FederatedUsers++
		}
		created := u.CreatedAt.UTC()
		if !created.Before(todayStart) && created.Before(todayEnd) {
			data.TodaySignups++
		}
		data.UsersByPlan[models.ParsePlan(string(u.Plan))]++
	}
	return data
}
