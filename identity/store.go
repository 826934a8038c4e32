// Package identity maintains each session's persistent @lid <-> phone-JID
// alias map, lazily loaded and atomically rewritten on change (temp file
// plus rename). The one-JSON-file shape follows the teacher's
// FileSessionStorage (whatsapp/session.go), which wrote with a plain
// os.WriteFile; the atomic rewrite is this package's own.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	lidSuffix = "@lid"
	pnSuffix  = "@s.whatsapp.net"
)

type aliasMap struct {
	LIDToPN map[string]string `json:"lid_to_pn"`
	PNToLID map[string]string `json:"pn_to_lid"`
}

// Store is the per-session alias map, backed by one JSON file.
type Store struct {
	path string

	mu      sync.Mutex
	loaded  bool
	aliases aliasMap
}

// New returns a store for the alias map file at path. The file is not
// read until the first call that needs it.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) ensureLoaded() {
	if s.loaded {
		return
	}
	s.aliases = aliasMap{LIDToPN: map[string]string{}, PNToLID: map[string]string{}}
	data, err := os.ReadFile(s.path)
	if err == nil {
		var m aliasMap
		if json.Unmarshal(data, &m) == nil {
			if m.LIDToPN != nil {
				s.aliases.LIDToPN = m.LIDToPN
			}
			if m.PNToLID != nil {
				s.aliases.PNToLID = m.PNToLID
			}
		}
	}
	s.loaded = true
}

// RememberPair records that lid and pn refer to the same user and
// persists the map if either direction actually changed. Returns
// whether the map changed.
func (s *Store) RememberPair(lid, pn string) (bool, error) {
	if lid == "" || pn == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	changed := false
	if s.aliases.LIDToPN[lid] != pn {
		s.aliases.LIDToPN[lid] = pn
		changed = true
	}
	if s.aliases.PNToLID[pn] != lid {
		s.aliases.PNToLID[pn] = lid
		changed = true
	}
	if !changed {
		return false, nil
	}
	return true, s.save()
}

// ResolveCanonical returns the phone-JID identity to use for jid: the
// fallback if it is already a phone JID, the mapped phone JID if jid is
// an @lid pseudonym with a known mapping, otherwise jid unchanged.
func (s *Store) ResolveCanonical(jid, fallbackPN string) string {
	if strings.HasSuffix(fallbackPN, pnSuffix) {
		return fallbackPN
	}
	if strings.HasSuffix(jid, lidSuffix) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ensureLoaded()
		if pn, ok := s.aliases.LIDToPN[jid]; ok {
			return pn
		}
	}
	return jid
}

// save writes the full map atomically: encode, write to a temp file in
// the same directory, then rename over the target.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.aliases, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
