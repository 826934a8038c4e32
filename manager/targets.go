package manager

import (
	"sort"

	"wa-session-supervisor/edge"
)

// computeTargets applies the discovery cycle's prioritization rule:
// stable descending sort by priority (ties keep their original
// eligible-list order, which sort.SliceStable already guarantees), then
// capped to n when n is positive. n <= 0 is treated as "uncapped" —
// the same zero-means-unlimited convention MAX_ACTIVE_INSTANCES uses
// as its default — so target is the full ordered list.
func computeTargets(eligible []edge.EligibleInstance, n int) []edge.EligibleInstance {
	ordered := make([]edge.EligibleInstance, len(eligible))
	copy(ordered, eligible)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	if n > 0 && n < len(ordered) {
		return ordered[:n]
	}
	return ordered
}

// resolveActiveCap picks the cap to feed computeTargets: the
// control plane's reported max_active_instances when settings was
// reachable, otherwise the local fallback.
func resolveActiveCap(settings *edge.Settings, settingsErr error, fallback int) int {
	if settingsErr == nil && settings != nil && settings.MaxActiveInstances != nil {
		return *settings.MaxActiveInstances
	}
	return fallback
}
