// Package credit estimates job costs and keeps the per-worker credit ledger.
package credit

import "strings"

// CostTableVersion identifies the pricing below. Bump it when a rate changes.
const CostTableVersion = "2025-10.1"

// ─── Cost Table ─────────────────────────────────────────────────────────────

const (
	costSoraPro = 250
	costSora    = 30
	costFast    = 60
	costVeo     = 250

	// longClip durations cost 1.5× on sora models.
	longClip = "15"
)

// EstimatedCost returns the credits one job of the given model and duration is
// expected to consume. Unknown models get the highest tier for their duration,
// so admission never underestimates them.
func EstimatedCost(model, duration string) int64 {
	m := strings.ToLower(strings.TrimSpace(model))

	switch {
	case strings.HasPrefix(m, "sora"):
		base := int64(costSora)
		if strings.HasPrefix(m, "sora-2-pro") {
			base = costSoraPro
		}
		return scaleForDuration(base, duration)
	case strings.Contains(m, "fast"):
		return costFast
	case strings.HasPrefix(m, "veo"):
		return costVeo
	default:
		return scaleForDuration(max(costSoraPro, costVeo), duration)
	}
}

func scaleForDuration(base int64, duration string) int64 {
	if strings.TrimSpace(duration) == longClip {
		return base * 3 / 2
	}
	return base
}
