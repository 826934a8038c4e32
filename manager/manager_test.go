package manager

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wa-session-supervisor/config"
	"wa-session-supervisor/edge"
	"wa-session-supervisor/lock"
	"wa-session-supervisor/session"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &config.Config{
		AuthBase:                        t.TempDir(),
		MediaBase:                       t.TempDir(),
		HTTPTimeout:                     time.Second,
		QueuePoll:                       time.Hour,
		BadMacWindow:                    time.Minute,
		BadMacThreshold:                 20,
		BadMacCooldown:                  5 * time.Minute,
		ContactResolveErrorCooldown:     time.Minute,
		ContactResolveDuplicateCooldown: 5 * time.Minute,
		ProcessOwnerID:                  "test-owner",
	}
	edgeClient := edge.New("http://unused.invalid", "secret", time.Second, zerolog.Nop())
	lockCoord := lock.New(edgeClient, cfg.ProcessOwnerID, time.Minute, 30*time.Second, nil, zerolog.Nop())
	return New(cfg, edgeClient, lockCoord, zerolog.Nop())
}

func TestCanStopTrueForUnknownOrIdleSession(t *testing.T) {
	m := newTestManager(t)

	if !m.canStop("never-seen") {
		t.Fatalf("an ungoverned session should always be stoppable")
	}

	m.getOrCreateRuntime("sess-1", 1)
	if !m.canStop("sess-1") {
		t.Fatalf("a runtime that never connected (state Idle) should be immediately stoppable")
	}
}

func TestHostInterfaceBookkeeping(t *testing.T) {
	m := newTestManager(t)

	if m.IsDesired("sess-1") {
		t.Fatalf("sess-1 should not be desired before any discovery cycle")
	}

	m.mu.Lock()
	m.desired["sess-1"] = true
	m.mu.Unlock()
	if !m.IsDesired("sess-1") {
		t.Fatalf("sess-1 should be desired once marked so")
	}

	m.getOrCreateRuntime("sess-1", 1)
	if m.runtimeCount() != 1 {
		t.Fatalf("runtimeCount = %d, want 1", m.runtimeCount())
	}

	m.ResetRuntime("sess-1")
	if m.runtimeCount() != 0 {
		t.Fatalf("ResetRuntime should discard the runtime, runtimeCount = %d", m.runtimeCount())
	}
}

func TestOnStateChangeStartsAndStopsOutboundRunner(t *testing.T) {
	m := newTestManager(t)
	rt := m.getOrCreateRuntime("sess-1", 1)

	m.onStateChange("sess-1", session.StateOpen)
	m.mu.Lock()
	ob := rt.outbound
	m.mu.Unlock()
	if ob == nil {
		t.Fatalf("expected an outbound runner to be created on the Open transition")
	}

	// A second Open notification must not replace the running outbound
	// runner with a fresh one.
	m.onStateChange("sess-1", session.StateOpen)
	m.mu.Lock()
	same := rt.outbound == ob
	m.mu.Unlock()
	if !same {
		t.Fatalf("a repeated Open transition should not restart the outbound runner")
	}

	m.onStateChange("sess-1", session.StateIdle)
	m.mu.Lock()
	stopped := rt.outbound
	m.mu.Unlock()
	if stopped != nil {
		t.Fatalf("expected the outbound runner to be cleared on a non-Open transition")
	}
}

func TestOnLockLostTearsDownRuntimeLocally(t *testing.T) {
	m := newTestManager(t)
	m.getOrCreateRuntime("sess-1", 1)

	m.OnLockLost("sess-1")

	if m.runtimeCount() != 0 {
		t.Fatalf("OnLockLost should remove the local runtime, runtimeCount = %d", m.runtimeCount())
	}
}
