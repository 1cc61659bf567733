// Package matchstore persists whole MatchContext records keyed by match id
// with single-writer-per-key semantics. The core performs no field-level
// locking itself; callers acquire the per-match lock around read-modify-write
// cycles so the confirm-both escalation is evaluated atomically.
package matchstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"racewager/native/match"
	"racewager/storage"
)

var keyPrefix = []byte("match/")

// ErrNotFound is returned when no record exists for a match id.
var ErrNotFound = errors.New("matchstore: match not found")

// Archiver receives terminal records exactly once. Archived records are never
// mutated again.
type Archiver interface {
	Archive(mc *match.MatchContext) error
}

// Store wraps a key-value database with per-match locking and terminal-state
// archival.
type Store struct {
	db      storage.Database
	archive Archiver

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a match store over the supplied database. The archiver may be
// nil when no archive is configured.
func New(db storage.Database, archive Archiver) *Store {
	return &Store{
		db:      db,
		archive: archive,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Lock acquires the single-writer lock for a match id and returns the release
// function. Both deposit confirmations on the same match must run under this
// lock so the funded escalation can never be raced into two independent
// non-escalating updates.
func (s *Store) Lock(matchID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[matchID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[matchID] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Get reads the whole record for a match id.
func (s *Store) Get(matchID string) (*match.MatchContext, error) {
	raw, err := s.db.Get(storageKey(matchID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("matchstore: read %s: %w", matchID, err)
	}
	var mc match.MatchContext
	if err := json.Unmarshal(raw, &mc); err != nil {
		return nil, fmt.Errorf("matchstore: decode %s: %w", matchID, err)
	}
	return &mc, nil
}

// Put writes the whole record, rejecting mutation of an already-terminal
// stored record. Records reaching a terminal state are handed to the archiver
// in the same call.
func (s *Store) Put(mc *match.MatchContext) error {
	sanitized, err := match.SanitizeMatch(mc)
	if err != nil {
		return fmt.Errorf("matchstore: %w", err)
	}
	if prev, err := s.Get(sanitized.ID); err == nil && prev.Status.IsTerminal() {
		return fmt.Errorf("matchstore: match %s is terminal and immutable", sanitized.ID)
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("matchstore: encode %s: %w", sanitized.ID, err)
	}
	if err := s.db.Put(storageKey(sanitized.ID), raw); err != nil {
		return fmt.Errorf("matchstore: write %s: %w", sanitized.ID, err)
	}
	if sanitized.Status.IsTerminal() && s.archive != nil {
		if err := s.archive.Archive(sanitized); err != nil {
			return fmt.Errorf("matchstore: archive %s: %w", sanitized.ID, err)
		}
	}
	return nil
}

// Has reports whether a record exists for the match id.
func (s *Store) Has(matchID string) (bool, error) {
	return s.db.Has(storageKey(matchID))
}

func storageKey(matchID string) []byte {
	return append(append([]byte(nil), keyPrefix...), matchID...)
}
