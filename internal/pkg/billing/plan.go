package billing

import (
	"strings"

	"github.com/ManuelReschke/CiteCheck/app/models"
)

func normalizePlan(plan string) models.Plan {
	return models.ParsePlan(plan)
}

func planRank(plan models.Plan) int {
	switch normalizePlan(string(plan)) {
	case models.PlanYearly:
		return 2
	case models.PlanMonthly:
		return 1
	default:
		return 0
	}
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case "month", "monthly":
		return "month"
	case "year", "yearly", "annual":
		return "year"
	default:
		return "unknown"
	}
}

func planForInterval(interval string) models.Plan {
	switch normalizeInterval(interval) {
	case "month":
		return models.PlanMonthly
	case "year":
		return models.PlanYearly
	default:
		return models.PlanFree
	}
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due", "paid":
		return true
	default:
		return false
	}
}

// IsUpgrade reports whether moving from one plan to another raises the tier.
func IsUpgrade(from, to models.Plan) bool {
	return planRank(to) > planRank(from)
}
