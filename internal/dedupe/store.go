// Package dedupe persists fingerprints of already-handled
// conversations so a canned reply is not re-sent every poll cycle.
package dedupe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Fingerprint builds the composite key for a handled reply target.
// It is not globally unique: two senders with the same display name
// and opening text collide, which is accepted.
func Fingerprint(name, preview string) string {
	return strings.TrimSpace(name) + "\x1f" + strings.TrimSpace(preview)
}

// Store is a bounded set of fingerprints mirrored to disk as a flat
// JSON array of strings. It is touched only by the control loop, so
// it carries no lock.
type Store struct {
	path       string
	maxEntries int
	flushEvery int

	set     map[string]struct{}
	order   []string // insertion order, for eviction
	pending int      // adds since last flush
	log     *zap.Logger
}

// New creates a store persisting at path, truncated at maxEntries and
// flushed every flushEvery additions.
func New(path string, maxEntries, flushEvery int, log *zap.Logger) *Store {
	return &Store{
		path:       path,
		maxEntries: maxEntries,
		flushEvery: flushEvery,
		set:        make(map[string]struct{}),
		log:        log,
	}
}

// Load reads prior state from disk. A missing file is not an error and
// leaves the set empty. An oversized file is truncated to the cap,
// keeping the most recently appended entries.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dedupe store: %w", err)
	}

	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse dedupe store: %w", err)
	}

	if len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}

	s.set = make(map[string]struct{}, len(entries))
	s.order = s.order[:0]
	for _, fp := range entries {
		if _, dup := s.set[fp]; dup {
			continue
		}
		s.set[fp] = struct{}{}
		s.order = append(s.order, fp)
	}

	s.log.Info("dedupe store loaded", zap.Int("entries", len(s.order)), zap.String("path", s.path))
	return nil
}

// Contains reports whether the fingerprint was already handled.
func (s *Store) Contains(fp string) bool {
	_, ok := s.set[fp]
	return ok
}

// Add records a fingerprint, evicting the oldest-inserted entries past
// the cap. Every flushEvery additions the set is mirrored to disk, so
// a crash can re-send a previously sent reply.
func (s *Store) Add(fp string) {
	if _, dup := s.set[fp]; dup {
		return
	}

	s.set[fp] = struct{}{}
	s.order = append(s.order, fp)

	for len(s.order) > s.maxEntries {
		evicted := s.order[0]
		s.order = s.order[1:]
		delete(s.set, evicted)
	}

	s.pending++
	if s.pending >= s.flushEvery {
		if err := s.Flush(); err != nil {
			s.log.Warn("dedupe flush failed", zap.Error(err))
		}
	}
}

// Flush serializes the current set to disk via a temp-file rename.
func (s *Store) Flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create dedupe dir: %w", err)
	}

	data, err := json.Marshal(s.order)
	if err != nil {
		return fmt.Errorf("marshal dedupe store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write dedupe store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename dedupe store: %w", err)
	}

	s.pending = 0
	return nil
}

// Len returns the number of stored fingerprints.
func (s *Store) Len() int {
	return len(s.order)
}

// Path returns the persistence path.
func (s *Store) Path() string {
	return s.path
}
