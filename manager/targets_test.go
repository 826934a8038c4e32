package manager

import (
	"testing"

	"wa-session-supervisor/edge"
)

func TestComputeTargetsOrdersByPriorityDescendingStable(t *testing.T) {
	eligible := []edge.EligibleInstance{
		{ID: "a", Priority: 5},
		{ID: "b", Priority: 10},
		{ID: "c", Priority: 10},
		{ID: "d", Priority: 1},
	}

	got := computeTargets(eligible, 0)
	want := []string{"b", "c", "a", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %d targets, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %q, want %q (ties must keep original order)", i, got[i].ID, id)
		}
	}
}

func TestComputeTargetsCapsWhenPositive(t *testing.T) {
	eligible := []edge.EligibleInstance{
		{ID: "a", Priority: 3},
		{ID: "b", Priority: 2},
		{ID: "c", Priority: 1},
	}

	got := computeTargets(eligible, 2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("got %v, want the top 2 by priority", got)
	}
}

func TestComputeTargetsUncappedWhenZeroOrNegative(t *testing.T) {
	eligible := []edge.EligibleInstance{{ID: "a", Priority: 1}, {ID: "b", Priority: 2}}

	for _, n := range []int{0, -1, -100} {
		got := computeTargets(eligible, n)
		if len(got) != len(eligible) {
			t.Fatalf("computeTargets(n=%d) returned %d targets, want uncapped %d", n, len(got), len(eligible))
		}
	}
}

func TestResolveActiveCapPrefersControlPlaneSettings(t *testing.T) {
	n := 7
	got := resolveActiveCap(&edge.Settings{MaxActiveInstances: &n}, nil, 3)
	if got != 7 {
		t.Fatalf("resolveActiveCap = %d, want 7", got)
	}
}

func TestResolveActiveCapFallsBackOnSettingsError(t *testing.T) {
	got := resolveActiveCap(nil, errUnreachable, 3)
	if got != 3 {
		t.Fatalf("resolveActiveCap = %d, want fallback 3", got)
	}
}

func TestResolveActiveCapFallsBackOnNilMaxActiveInstances(t *testing.T) {
	got := resolveActiveCap(&edge.Settings{}, nil, 4)
	if got != 4 {
		t.Fatalf("resolveActiveCap = %d, want fallback 4", got)
	}
}

var errUnreachable = fakeErr("settings endpoint unreachable")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
