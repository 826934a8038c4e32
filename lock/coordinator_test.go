package lock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wa-session-supervisor/edge"
)

func newLockServer(t *testing.T, acquireAcquired bool, renewAcquired bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/instance-lock/acquire":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"acquired":       acquireAcquired,
				"instance_owner": "someone-else",
				"lock_token":     "tok-1",
			})
		case "/instance-lock/renew":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"acquired":   renewAcquired,
				"lock_token": "tok-2",
			})
		case "/instance-lock/release":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"acquired": false})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAcquireSucceedsAndTracksOwnership(t *testing.T) {
	srv := newLockServer(t, true, true)
	client := edge.New(srv.URL, "secret", time.Second, zerolog.Nop())
	c := New(client, "owner-1", time.Minute, time.Hour, nil, zerolog.Nop())

	if c.Owns("sess-1") {
		t.Fatalf("should not own sess-1 before Acquire")
	}
	if !c.Acquire(context.Background(), "sess-1") {
		t.Fatalf("Acquire should succeed when the control plane grants the lock")
	}
	if !c.Owns("sess-1") {
		t.Fatalf("should own sess-1 after a successful Acquire")
	}
	c.Release("sess-1")
	if c.Owns("sess-1") {
		t.Fatalf("should not own sess-1 after Release")
	}
}

func TestAcquireFailsOnConflict(t *testing.T) {
	srv := newLockServer(t, false, true)
	client := edge.New(srv.URL, "secret", time.Second, zerolog.Nop())
	c := New(client, "owner-1", time.Minute, time.Hour, nil, zerolog.Nop())

	if c.Acquire(context.Background(), "sess-1") {
		t.Fatalf("Acquire should fail when the control plane reports a conflicting owner")
	}
	if c.Owns("sess-1") {
		t.Fatalf("a failed Acquire must not record ownership")
	}
}

func TestRenewalLossInvokesOnLostAndForgetsOwnership(t *testing.T) {
	srv := newLockServer(t, true, false)
	client := edge.New(srv.URL, "secret", time.Second, zerolog.Nop())

	var lostCount int32
	var lostID string
	c := New(client, "owner-1", time.Minute, 20*time.Millisecond, func(sessionID string) {
		atomic.AddInt32(&lostCount, 1)
		lostID = sessionID
	}, zerolog.Nop())

	if !c.Acquire(context.Background(), "sess-1") {
		t.Fatalf("Acquire should succeed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&lostCount) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if atomic.LoadInt32(&lostCount) == 0 {
		t.Fatalf("expected onLost to fire once the control plane stopped granting renewal")
	}
	if lostID != "sess-1" {
		t.Fatalf("onLost called with %q, want sess-1", lostID)
	}
	if c.Owns("sess-1") {
		t.Fatalf("ownership should be forgotten once the lock is lost")
	}
}
