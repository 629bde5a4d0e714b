// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/cadenzalab/cadenza/internal/models"
)

// CreateSession persists a new session record.
func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	if session.Composition == nil {
		session.Composition = json.RawMessage("{}")
	}
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, sessionKey(session.ID), session)
	})
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, sessionKey(id), &session)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &session, nil
}

// ListSessions returns summaries of all sessions, most recently active
// first. The composition snapshot is omitted from list results.
func (s *Store) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	var sessions []models.SessionSummary
	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var session models.Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			})
			if err != nil {
				return err
			}
			sum := session.Summary()
			sum.Composition = nil
			sessions = append(sessions, sum)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions, nil
}

// TransitionSession moves a session to the next lifecycle status, enforcing
// the state machine (active <-> paused, active -> completed -> archived).
// Returns ErrInvalidTransition for any other edge.
func (s *Store) TransitionSession(ctx context.Context, id string, next models.SessionStatus) (*models.Session, error) {
	if !next.Valid() {
		return nil, ErrInvalidTransition
	}

	var session models.Session
	err := s.update(func(txn *badger.Txn) error {
		if err := getJSON(txn, sessionKey(id), &session); err != nil {
			return err
		}
		if !session.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, next)
		}
		session.Status = next
		session.UpdatedAt = time.Now().UTC()
		return setJSON(txn, sessionKey(id), &session)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}
