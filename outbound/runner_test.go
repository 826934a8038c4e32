package outbound

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wa-session-supervisor/edge"
	"wa-session-supervisor/identity"
	"wa-session-supervisor/session"
)

type fakeSender struct {
	open      bool
	attempts  int32
	failUntil int32
	failErr   error
}

func (f *fakeSender) IsOpen() bool { return f.open }

func (f *fakeSender) SendText(ctx context.Context, dest, body string) (string, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= f.failUntil {
		return "", f.failErr
	}
	return "wa-msg-id", nil
}

func (f *fakeSender) SendMedia(ctx context.Context, dest string, kind session.MediaKind, data []byte, mimeType, caption, fileName string) (string, error) {
	return f.SendText(ctx, dest, caption)
}

func newTestOutboundRunner(t *testing.T, sender Sender, refreshHits *int32) *Runner {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refreshHits != nil && r.URL.Path == "/sessions/refresh" {
			atomic.AddInt32(refreshHits, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := edge.New(srv.URL, "secret", 2*time.Second, zerolog.Nop())
	aliases := identity.New(filepath.Join(t.TempDir(), "identity-alias-map.json"))
	return New("sess-1", client, aliases, sender, time.Hour, zerolog.Nop())
}

func TestSendWithRecoverySucceedsFirstTry(t *testing.T) {
	sender := &fakeSender{open: true}
	r := newTestOutboundRunner(t, sender, nil)

	msg := edgeTextMessage("m1", "15551234567@s.whatsapp.net", "hello")
	waID, debug, err := r.sendWithRecovery(context.Background(), msg, "15551234567@s.whatsapp.net")
	if err != nil {
		t.Fatalf("sendWithRecovery: %v", err)
	}
	if waID != "wa-msg-id" {
		t.Fatalf("waID = %q, want wa-msg-id", waID)
	}
	if debug.Attempts != 1 || debug.Refreshes != 0 {
		t.Fatalf("debug = %+v, want Attempts=1 Refreshes=0", debug)
	}
}

func TestSendWithRecoveryRetriesOnNoMatchingSessions(t *testing.T) {
	var refreshHits int32
	sender := &fakeSender{open: true, failUntil: 1, failErr: errors.New("no matching sessions found for jid")}
	r := newTestOutboundRunner(t, sender, &refreshHits)

	msg := edgeTextMessage("m1", "15551234567@s.whatsapp.net", "hello")
	waID, debug, err := r.sendWithRecovery(context.Background(), msg, "15551234567@s.whatsapp.net")
	if err != nil {
		t.Fatalf("sendWithRecovery: %v", err)
	}
	if waID != "wa-msg-id" {
		t.Fatalf("waID = %q, want wa-msg-id", waID)
	}
	if debug.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", debug.Attempts)
	}
	if debug.Refreshes != 1 {
		t.Fatalf("Refreshes = %d, want 1", debug.Refreshes)
	}
	if atomic.LoadInt32(&refreshHits) != 1 {
		t.Fatalf("expected exactly one refresh-session call, got %d", refreshHits)
	}
}

func TestSendWithRecoveryGivesUpOnOtherErrors(t *testing.T) {
	sender := &fakeSender{open: true, failUntil: 10, failErr: errors.New("permanently unavailable")}
	r := newTestOutboundRunner(t, sender, nil)

	msg := edgeTextMessage("m1", "15551234567@s.whatsapp.net", "hello")
	_, debug, err := r.sendWithRecovery(context.Background(), msg, "15551234567@s.whatsapp.net")
	if err == nil {
		t.Fatalf("expected an error for a non-retryable failure")
	}
	if debug.Attempts != 1 || debug.Refreshes != 0 {
		t.Fatalf("debug = %+v, want a single attempt with no refresh", debug)
	}
}

func edgeTextMessage(id, to, body string) edge.QueuedMessage {
	return edge.QueuedMessage{ID: id, To: to, Body: &body}
}
