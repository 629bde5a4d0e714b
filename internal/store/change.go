// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/cadenzalab/cadenza/internal/metrics"
	"github.com/cadenzalab/cadenza/internal/models"
)

// AppendChange appends a change record and increments the session version
// counter, all in one transaction. On success it returns the new version.
//
// The version invariant lives here: read session, version+1, write session
// and change record, commit. Two concurrent appends to the same session
// conflict on the session key; the loser retries against the fresh counter,
// so versions are never lost or duplicated.
//
// Returns ErrSessionNotActive when the session exists but is paused,
// completed, or archived.
func (s *Store) AppendChange(ctx context.Context, change *models.Change) (uint64, error) {
	var version uint64

	err := s.update(func(txn *badger.Txn) error {
		var session models.Session
		if err := getJSON(txn, sessionKey(change.SessionID), &session); err != nil {
			return err
		}
		if session.Status != models.StatusActive {
			return ErrSessionNotActive
		}

		session.Version++
		session.LastActivity = change.Timestamp
		session.UpdatedAt = change.Timestamp
		version = session.Version
		if err := setJSON(txn, sessionKey(change.SessionID), &session); err != nil {
			return err
		}

		key := logKey(changeKeyPrefix, change.SessionID, change.Timestamp, change.ID)
		if err := setJSON(txn, key, change); err != nil {
			return err
		}

		// Contribution counters ride in the same transaction so they stay
		// consistent with the change log.
		pKey := participantKey(change.SessionID, change.UserID)
		var participant models.Participant
		if err := getJSON(txn, pKey, &participant); err != nil {
			return err
		}
		participant.Contributions++
		participant.EditsMade++
		participant.LastSeen = change.Timestamp
		return setJSON(txn, pKey, &participant)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, err
	}

	metrics.ChangesPersisted.Inc()
	return version, nil
}

// ListChanges returns change records for a session, newest first. A nil
// cursor starts from the latest entry; the returned cursor resumes the next
// page, nil when the log is exhausted.
func (s *Store) ListChanges(ctx context.Context, sessionID string, limit int, cursor *string) ([]models.Change, *string, error) {
	var changes []models.Change
	next, err := s.scanLogReverse(changeKeyPrefix, sessionID, limit, cursor, func(val []byte) error {
		var c models.Change
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		changes = append(changes, c)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list changes %s: %w", sessionID, err)
	}
	return changes, next, nil
}

// scanLogReverse iterates one session's log entries under the given prefix
// in reverse chronological order, calling visit for each value until limit
// entries have been read. The cursor is the key suffix after the session
// prefix, as returned by a previous scan.
func (s *Store) scanLogReverse(prefix, sessionID string, limit int, cursor *string, visit func(val []byte) error) (*string, error) {
	var lastKey string
	count := 0

	err := s.view(func(txn *badger.Txn) error {
		prefixStr := prefix + sessionID + ":"
		prefixBytes := []byte(prefixStr)

		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var seekKey []byte
		if cursor == nil {
			// Seek past any possible timestamp so reverse iteration starts
			// at the newest entry.
			seekKey = append([]byte(prefixStr), []byte("9999999999999999999")...)
		} else {
			seekKey = append([]byte(prefixStr), []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefixBytes) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefixBytes); it.Next() {
			if limit > 0 && count >= limit {
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			if err := item.Value(visit); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && count == limit && lastKey != "" {
		return &lastKey, nil
	}
	return nil, nil
}
