package identity

import (
	"path/filepath"
	"testing"
)

func TestRememberPairPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity-alias-map.json")
	store := New(path)

	changed, err := store.RememberPair("123456@lid", "15551234567@s.whatsapp.net")
	if err != nil {
		t.Fatalf("RememberPair: %v", err)
	}
	if !changed {
		t.Fatalf("expected first RememberPair to report a change")
	}

	changed, err = store.RememberPair("123456@lid", "15551234567@s.whatsapp.net")
	if err != nil {
		t.Fatalf("RememberPair (repeat): %v", err)
	}
	if changed {
		t.Fatalf("expected repeat RememberPair with identical pair to report no change")
	}

	reloaded := New(path)
	got := reloaded.ResolveCanonical("123456@lid", "123456@lid")
	want := "15551234567@s.whatsapp.net"
	if got != want {
		t.Fatalf("ResolveCanonical after reload = %q, want %q", got, want)
	}
}

func TestResolveCanonicalPrefersFallbackPhoneJID(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "identity-alias-map.json"))

	if _, err := store.RememberPair("999@lid", "15550000000@s.whatsapp.net"); err != nil {
		t.Fatalf("RememberPair: %v", err)
	}

	got := store.ResolveCanonical("999@lid", "15559999999@s.whatsapp.net")
	if got != "15559999999@s.whatsapp.net" {
		t.Fatalf("expected fallback phone JID to win over a stale mapping, got %q", got)
	}
}

func TestResolveCanonicalUnknownLIDPassesThrough(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "identity-alias-map.json"))

	got := store.ResolveCanonical("unknown@lid", "unknown@lid")
	if got != "unknown@lid" {
		t.Fatalf("expected unmapped @lid to pass through unchanged, got %q", got)
	}
}
