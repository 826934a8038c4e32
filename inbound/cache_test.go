package inbound

import (
	"testing"
	"time"
)

func TestContactCacheRoundTrip(t *testing.T) {
	c := NewContactCache(time.Hour, time.Minute, 5*time.Minute)

	if _, _, ok := c.Get("15551234567@s.whatsapp.net"); ok {
		t.Fatalf("expected a miss before any Put")
	}

	c.PutResolved("15551234567@s.whatsapp.net", "contact-1", time.Hour)
	contactID, isNull, ok := c.Get("15551234567@s.whatsapp.net")
	if !ok || isNull || contactID != "contact-1" {
		t.Fatalf("Get after PutResolved = (%q, %v, %v), want (contact-1, false, true)", contactID, isNull, ok)
	}
}

func TestContactCacheNullEntryExpiresIndependentlyOfLibraryTTL(t *testing.T) {
	// The underlying LRU's own TTL is set to the longest of the three
	// durations passed to NewContactCache, so a short cooldown must be
	// enforced by the explicit expiresAt check, not the library sweep.
	c := NewContactCache(time.Hour, 10*time.Millisecond, time.Hour)

	c.PutNull("99999@lid", 10*time.Millisecond)
	if _, isNull, ok := c.Get("99999@lid"); !ok || !isNull {
		t.Fatalf("expected an immediate null hit right after PutNull")
	}

	time.Sleep(30 * time.Millisecond)
	if _, _, ok := c.Get("99999@lid"); ok {
		t.Fatalf("expected the null entry to have expired after its cooldown")
	}
}

func TestContactCacheDistinctCooldownsPerEntry(t *testing.T) {
	c := NewContactCache(time.Hour, 10*time.Millisecond, time.Hour)

	c.PutNull("short@lid", 10*time.Millisecond)
	c.PutNull("long@lid", time.Hour)

	time.Sleep(30 * time.Millisecond)

	if _, _, ok := c.Get("short@lid"); ok {
		t.Fatalf("short cooldown entry should have expired")
	}
	if _, isNull, ok := c.Get("long@lid"); !ok || !isNull {
		t.Fatalf("long cooldown entry should still be cached")
	}
}
