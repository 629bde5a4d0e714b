// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

// Package store persists Cadenza's domain state in BadgerDB: sessions,
// participants, user accounts, and the append-only change/comment/event
// logs.
//
// Log entries use keys of the form
//
//	change:{session_id}:{timestamp_padded_19}:{uuid}
//
// so a prefix scan yields entries in chronological order; the 19-digit
// zero-padded UnixNano keeps lexicographic and temporal order aligned, and
// the trailing UUID disambiguates entries created in the same nanosecond.
//
// The session version counter is incremented inside a single Badger
// transaction together with the change record write. Badger's SSI detects
// write conflicts between concurrent increments; AppendChange retries on
// ErrConflict, so the counter is gap-free and monotonic no matter how many
// connections submit changes concurrently.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/metrics"
)

// Sentinel errors returned by store operations.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrInvalidTransition   = errors.New("invalid session status transition")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrUsernameTaken       = errors.New("username already taken")
)

// Key prefixes. Composite keys join segments with ':'.
const (
	sessionKeyPrefix     = "session:"
	participantKeyPrefix = "participant:"
	changeKeyPrefix      = "change:"
	commentKeyPrefix     = "comment:"
	eventKeyPrefix       = "event:"
	userKeyPrefix        = "user:"
	usernameKeyPrefix    = "username:"
)

// maxCommitRetries bounds the conflict-retry loop for serialized counter
// updates. Contention on one session is bounded by its participant count,
// so a small number of retries is always enough in practice.
const maxCommitRetries = 32

// Store is the BadgerDB-backed persistence layer.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store at the given directory path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	logging.Info().Str("path", path).Msg("store opened")
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral in-memory store. Used in tests and for
// development runs without a data directory.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC triggers one round of Badger value-log garbage collection.
// Returns badger.ErrNoRewrite when there was nothing to collect; callers
// treat that as success.
func (s *Store) RunGC() error {
	return s.db.RunValueLogGC(0.5)
}

// sessionKey returns the key for a session record.
func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// participantKey returns the key for a (session, user) participant record.
func participantKey(sessionID, userID string) []byte {
	return []byte(participantKeyPrefix + sessionID + ":" + userID)
}

// logKey builds a chronologically sortable key for an append-only log
// entry: prefix + session + zero-padded UnixNano + uuid.
func logKey(prefix, sessionID string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", prefix, sessionID, at.UnixNano(), id))
}

// getJSON reads and unmarshals the value at key into out. Returns
// badger.ErrKeyNotFound untouched so callers can map it to a domain error.
func getJSON(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// setJSON marshals v and writes it at key.
func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// update runs fn in a read-write transaction, retrying on commit conflicts.
// This is the serialization point for all read-modify-write operations,
// the session version counter above all.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		txn := s.db.NewTransaction(true)
		err := fn(txn)
		if err != nil {
			txn.Discard()
			return err
		}
		err = txn.Commit()
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("commit: %w", err)
		}
		metrics.StoreCommitConflicts.Inc()
		logging.Debug().Int("attempt", attempt+1).Msg("store commit conflict, retrying")
	}
	return fmt.Errorf("commit: conflict persisted after %d retries", maxCommitRetries)
}

// view runs fn in a read-only transaction.
func (s *Store) view(fn func(txn *badger.Txn) error) error {
	return s.db.View(fn)
}
