// Package state owns the on-disk SyncStateFile: per-collection resume
// tokens and monotonic counters, written atomically and read back on
// restart so an interrupted replica resumes without duplicating or losing
// changes.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// OperationKind tags a single applied (or failed) operation for the
// sync_stats counters. update and replace both map to OpUpdate.
type OperationKind string

const (
	OpInsert OperationKind = "insert"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
	OpError  OperationKind = "error"
)

// Stats mirrors the on-disk sync_stats block. Counters are monotonically
// non-decreasing for the lifetime of the state file; total_synced counts
// every RecordOperation call including errors, so it need not equal the
// sum of the other four.
type Stats struct {
	TotalSynced uint64 `json:"total_synced"`
	Inserts     uint64 `json:"inserts"`
	Updates     uint64 `json:"updates"`
	Deletes     uint64 `json:"deletes"`
	Errors      uint64 `json:"errors"`
}

type fileFormat struct {
	ResumeTokens map[string]Token `json:"resume_tokens"`
	LastSyncTime string           `json:"last_sync_time"`
	SyncStats    Stats            `json:"sync_stats"`
}

func newFileFormat() fileFormat {
	return fileFormat{ResumeTokens: map[string]Token{}}
}

// Store owns the SyncStateFile: in-memory data plus the path it persists
// to. Nothing here is safe for concurrent use by design -- the sync loop
// that owns a Store is single-threaded (see the supervisor package), so no
// lock is needed around these calls.
type Store struct {
	path string
	log  *slog.Logger

	data         fileFormat
	sincePersist int
}

// New creates a Store bound to path with default (empty) in-memory state.
// Call Load to overlay any existing file.
func New(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{path: path, log: log, data: newFileFormat()}
}

// Load overlays the on-disk file onto the default skeleton. A missing file
// is not an error -- the store simply starts fresh. A present but
// unparsable file is logged and the store also starts fresh, leaving the
// corrupt file in place for forensic inspection.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("state: read %s: %w", s.path, err)
	}

	var loaded fileFormat
	if err := json.Unmarshal(raw, &loaded); err != nil {
		s.log.Warn("state file is corrupt, starting fresh", "path", s.path, "error", err)
		return nil
	}
	if loaded.ResumeTokens == nil {
		loaded.ResumeTokens = map[string]Token{}
	}
	s.data = loaded
	return nil
}

// InitCollections ensures every target has a (possibly null) resume token
// entry, then flushes. Idempotent: already-known targets are untouched.
func (s *Store) InitCollections(targets []WatchTarget) error {
	for _, t := range targets {
		key := t.String()
		if _, ok := s.data.ResumeTokens[key]; !ok {
			s.data.ResumeTokens[key] = nil
		}
	}
	return s.Persist()
}

// GetResumeToken returns the persisted token for target, or nil if none
// has been recorded yet (stream should start from the current position).
func (s *Store) GetResumeToken(target WatchTarget) Token {
	return s.data.ResumeTokens[target.String()]
}

// UpdateResumeToken records a new token for target, stamps last_sync_time,
// and persists once persistInterval changes have accumulated since the
// last flush.
func (s *Store) UpdateResumeToken(target WatchTarget, token Token, persistInterval int) error {
	s.data.ResumeTokens[target.String()] = token
	s.data.LastSyncTime = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	s.sincePersist++

	if persistInterval <= 0 {
		persistInterval = 1
	}
	if s.sincePersist >= persistInterval {
		if err := s.Persist(); err != nil {
			return err
		}
		s.sincePersist = 0
	}
	return nil
}

// RecordOperation increments total_synced and the counter matching kind.
func (s *Store) RecordOperation(kind OperationKind) {
	s.data.SyncStats.TotalSynced++
	switch kind {
	case OpInsert:
		s.data.SyncStats.Inserts++
	case OpUpdate:
		s.data.SyncStats.Updates++
	case OpDelete:
		s.data.SyncStats.Deletes++
	case OpError:
		s.data.SyncStats.Errors++
	}
}

// FlushIfPending persists only if changes have accumulated since the last
// flush. Called by the supervisor whenever a poll sweep finds no events.
func (s *Store) FlushIfPending() error {
	if s.sincePersist == 0 {
		return nil
	}
	if err := s.Persist(); err != nil {
		return err
	}
	s.sincePersist = 0
	return nil
}

// Persist performs an unconditional atomic write of the in-memory state.
func (s *Store) Persist() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	return writeAtomic(s.path, raw)
}

// Reset replaces the in-memory state with defaults and deletes the file
// if present.
func (s *Store) Reset() error {
	s.data = newFileFormat()
	s.sincePersist = 0
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("state: remove %s: %w", s.path, err)
	}
	return nil
}

// Stats returns a snapshot copy of the counters.
func (s *Store) Stats() Stats {
	return s.data.SyncStats
}
