package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wa-session-supervisor/edge"
)

type fakeHost struct {
	desired       bool
	resetCalls    int
	ensureCalls   []string
}

func (f *fakeHost) IsDesired(string) bool   { return f.desired }
func (f *fakeHost) EnsureRunning(id string) { f.ensureCalls = append(f.ensureCalls, id) }
func (f *fakeHost) ResetRuntime(string)     { f.resetCalls++ }

func newTestRunner(t *testing.T, threshold int, window, cooldown time.Duration) (*Runner, *fakeHost, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	host := &fakeHost{desired: true}
	client := edge.New(srv.URL, "test-secret", 2*time.Second, zerolog.Nop())

	r := New(RunnerConfig{
		SessionID:       "sess-1",
		AuthPath:        t.TempDir(),
		MediaPath:       t.TempDir(),
		Host:            host,
		Edge:            client,
		BadMacWindow:    window,
		BadMacThreshold: threshold,
		BadMacCooldown:  cooldown,
		Log:             zerolog.Nop(),
	})
	return r, host, &calls
}

func TestRecordBadMacSignalTripsAtThreshold(t *testing.T) {
	r, host, calls := newTestRunner(t, 3, time.Minute, time.Minute)

	r.RecordBadMacSignal()
	r.RecordBadMacSignal()
	if host.resetCalls != 0 {
		t.Fatalf("breaker tripped early: resetCalls = %d, want 0", host.resetCalls)
	}

	r.RecordBadMacSignal()
	if host.resetCalls != 1 {
		t.Fatalf("breaker did not trip at threshold: resetCalls = %d, want 1", host.resetCalls)
	}
	if len(host.ensureCalls) != 1 || host.ensureCalls[0] != "sess-1" {
		t.Fatalf("expected EnsureRunning(\"sess-1\") once, got %v", host.ensureCalls)
	}
	if *calls != 1 {
		t.Fatalf("expected exactly one status post on trip, got %d", *calls)
	}
}

func TestRecordBadMacSignalSlidingWindowPurgesOldEntries(t *testing.T) {
	r, host, _ := newTestRunner(t, 3, 40*time.Millisecond, time.Minute)

	r.RecordBadMacSignal()
	r.RecordBadMacSignal()
	time.Sleep(60 * time.Millisecond)
	r.RecordBadMacSignal()

	if host.resetCalls != 0 {
		t.Fatalf("breaker should not trip once earlier signals fall outside the window: resetCalls = %d", host.resetCalls)
	}
}

func TestRecordBadMacSignalCooldownSuppressesRetrip(t *testing.T) {
	r, host, _ := newTestRunner(t, 1, time.Minute, time.Hour)

	r.RecordBadMacSignal()
	if host.resetCalls != 1 {
		t.Fatalf("expected first signal at threshold 1 to trip, resetCalls = %d", host.resetCalls)
	}

	r.RecordBadMacSignal()
	if host.resetCalls != 1 {
		t.Fatalf("breaker should stay tripped through its cooldown, resetCalls = %d, want 1", host.resetCalls)
	}
}
