package inbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wa-session-supervisor/edge"
	"wa-session-supervisor/identity"
)

func newTestRelay(t *testing.T, handler http.HandlerFunc) (*Relay, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := edge.New(srv.URL, "secret", 2*time.Second, zerolog.Nop())
	aliases := identity.New(filepath.Join(t.TempDir(), "identity-alias-map.json"))
	relay := New("sess-1", t.TempDir(), client, aliases, 50*time.Millisecond, 50*time.Millisecond, zerolog.Nop())
	return relay, &hits
}

func TestResolveSenderContactCachesSuccessfulResolution(t *testing.T) {
	relay, hits := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"contact_id": "contact-42"})
	})

	ctx := context.Background()
	first := relay.resolveSenderContact(ctx, "15551234567@s.whatsapp.net", "Alice")
	second := relay.resolveSenderContact(ctx, "15551234567@s.whatsapp.net", "Alice")

	if first != "contact-42" || second != "contact-42" {
		t.Fatalf("resolveSenderContact = %q, %q, want contact-42 both times", first, second)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("expected exactly one resolve-contact call, got %d", *hits)
	}
}

func TestResolveSenderContactDuplicateCooldownSuppressesRetry(t *testing.T) {
	relay, hits := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	ctx := context.Background()
	got := relay.resolveSenderContact(ctx, "15551234567@s.whatsapp.net", "Alice")
	if got != "" {
		t.Fatalf("expected empty contact id on a duplicate conflict, got %q", got)
	}

	got = relay.resolveSenderContact(ctx, "15551234567@s.whatsapp.net", "Alice")
	if got != "" {
		t.Fatalf("expected the cooldown to still apply, got %q", got)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("expected the second lookup to be served from the null cache, got %d calls", *hits)
	}

	time.Sleep(70 * time.Millisecond)
	_ = relay.resolveSenderContact(ctx, "15551234567@s.whatsapp.net", "Alice")
	if atomic.LoadInt32(hits) != 2 {
		t.Fatalf("expected the third lookup to reach the control plane once the duplicate cooldown elapsed, got %d calls", *hits)
	}
}

func TestResolveSenderContactErrorCooldownSuppressesRetry(t *testing.T) {
	relay, hits := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx := context.Background()
	_ = relay.resolveSenderContact(ctx, "15550000000@s.whatsapp.net", "Bob")
	_ = relay.resolveSenderContact(ctx, "15550000000@s.whatsapp.net", "Bob")

	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("expected the second lookup during the error cooldown to be suppressed, got %d calls", *hits)
	}
}
