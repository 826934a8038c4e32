package session

import (
	"context"
	"errors"
	"strings"

	"wa-session-supervisor/edge"
)

// ErrorKind is a tagged classification of the errors this package cares
// about, replacing ad hoc string matching scattered across callers with
// one function, per the design note this module was built against.
type ErrorKind string

const (
	KindLoggedOut        ErrorKind = "logged_out"
	KindBadSession       ErrorKind = "bad_session"
	KindRestart515       ErrorKind = "restart_515"
	KindTimeout          ErrorKind = "timeout"
	KindHTTPStatus       ErrorKind = "http_status"
	KindSignalDecrypt    ErrorKind = "signal_decrypt"
	KindSignalNoSession  ErrorKind = "signal_no_session"
	KindBadMac           ErrorKind = "bad_mac"
	KindDuplicateContact ErrorKind = "duplicate_contact"
	KindOther            ErrorKind = "other"
)

// badMacMarkers are the exact substrings go.mau.fi/libsignal (whatsmeow's
// Signal-protocol dependency) is known to return from failed
// decrypt/encrypt operations.
var badMacMarkers = []string{"bad mac", "failed to decrypt message"}

const noMatchingSessionsMarker = "no matching sessions found"
const badSessionMarker = "bad session"

// Classify inspects err and returns the most specific kind it matches.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if edge.IsDuplicate(err) {
		return KindDuplicateContact
	}
	var se *edge.StatusError
	if errors.As(err, &se) {
		return KindHTTPStatus
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, noMatchingSessionsMarker):
		return KindSignalNoSession
	case strings.Contains(text, badSessionMarker):
		return KindBadSession
	case containsAny(text, badMacMarkers):
		return KindBadMac
	case strings.Contains(text, "timeout") || strings.Contains(text, "deadline exceeded"):
		return KindTimeout
	default:
		return KindOther
	}
}

// IsBadMacSignal reports whether err (typically returned from a send)
// represents one of the cryptographic-corruption markers fed into the
// Bad-MAC circuit breaker window.
func IsBadMacSignal(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return containsAny(text, append(append([]string{}, badMacMarkers...), noMatchingSessionsMarker))
}

// IsNoMatchingSessions reports whether err is the specific libsignal
// error the outbound send-recovery retry loop watches for.
func IsNoMatchingSessions(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), noMatchingSessionsMarker)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
