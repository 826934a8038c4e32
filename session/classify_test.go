package session

import (
	"context"
	"errors"
	"testing"

	"wa-session-supervisor/edge"
)

func TestClassifyTimeout(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != KindTimeout {
		t.Fatalf("Classify(DeadlineExceeded) = %v, want %v", got, KindTimeout)
	}
}

func TestClassifyDuplicateContact(t *testing.T) {
	err := &edge.StatusError{Op: "resolve_contact", Code: 409, Body: []byte("conflict")}
	if got := Classify(err); got != KindDuplicateContact {
		t.Fatalf("Classify(409) = %v, want %v", got, KindDuplicateContact)
	}
}

func TestClassifyHTTPStatusFallsThroughWhenNotDuplicate(t *testing.T) {
	err := &edge.StatusError{Op: "list_queued", Code: 503, Body: []byte("unavailable")}
	if got := Classify(err); got != KindHTTPStatus {
		t.Fatalf("Classify(503) = %v, want %v", got, KindHTTPStatus)
	}
}

func TestClassifyBadMacMarker(t *testing.T) {
	err := errors.New("failed to decrypt message: Bad Mac")
	if got := Classify(err); got != KindBadMac {
		t.Fatalf("Classify(bad mac) = %v, want %v", got, KindBadMac)
	}
}

func TestClassifyNoMatchingSessions(t *testing.T) {
	err := errors.New("no matching sessions found for message")
	if got := Classify(err); got != KindSignalNoSession {
		t.Fatalf("Classify(no matching sessions) = %v, want %v", got, KindSignalNoSession)
	}
	if !IsNoMatchingSessions(err) {
		t.Fatalf("IsNoMatchingSessions should be true for %q", err)
	}
}

func TestIsBadMacSignalCoversBothMarkers(t *testing.T) {
	cases := []string{
		"Bad MAC error during decrypt",
		"failed to decrypt message for session",
		"no matching sessions found",
	}
	for _, text := range cases {
		if !IsBadMacSignal(errors.New(text)) {
			t.Errorf("IsBadMacSignal(%q) = false, want true", text)
		}
	}
	if IsBadMacSignal(errors.New("connection reset by peer")) {
		t.Fatalf("IsBadMacSignal should not match unrelated errors")
	}
	if IsBadMacSignal(nil) {
		t.Fatalf("IsBadMacSignal(nil) should be false")
	}
}
