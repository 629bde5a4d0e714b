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

// AppendComment appends a comment to the session's comment log and bumps
// the author's contribution counters. Comments do not touch the version
// counter but do refresh session activity.
func (s *Store) AppendComment(ctx context.Context, comment *models.Comment) error {
	err := s.update(func(txn *badger.Txn) error {
		var session models.Session
		if err := getJSON(txn, sessionKey(comment.SessionID), &session); err != nil {
			return err
		}
		if session.Status != models.StatusActive {
			return ErrSessionNotActive
		}

		session.LastActivity = comment.CreatedAt
		if err := setJSON(txn, sessionKey(comment.SessionID), &session); err != nil {
			return err
		}

		key := logKey(commentKeyPrefix, comment.SessionID, comment.CreatedAt, comment.ID)
		if err := setJSON(txn, key, comment); err != nil {
			return err
		}

		pKey := participantKey(comment.SessionID, comment.UserID)
		var participant models.Participant
		if err := getJSON(txn, pKey, &participant); err != nil {
			return err
		}
		participant.Contributions++
		participant.CommentsMade++
		participant.LastSeen = comment.CreatedAt
		return setJSON(txn, pKey, &participant)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	metrics.CommentsPersisted.Inc()
	return nil
}

// ListComments returns comments for a session, newest first, with the same
// cursor contract as ListChanges.
func (s *Store) ListComments(ctx context.Context, sessionID string, limit int, cursor *string) ([]models.Comment, *string, error) {
	var comments []models.Comment
	next, err := s.scanLogReverse(commentKeyPrefix, sessionID, limit, cursor, func(val []byte) error {
		var c models.Comment
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		comments = append(comments, c)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list comments %s: %w", sessionID, err)
	}
	return comments, next, nil
}

// ResolveComment marks a comment resolved. The full key must be recovered
// by scanning, comments are addressed by ID from the API.
func (s *Store) ResolveComment(ctx context.Context, sessionID, commentID string) (*models.Comment, error) {
	var resolved *models.Comment

	err := s.update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(commentKeyPrefix + sessionID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var c models.Comment
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			if c.ID != commentID {
				continue
			}
			c.Resolved = true
			resolved = &c
			return setJSON(txn, item.KeyCopy(nil), &c)
		}
		return badger.ErrKeyNotFound
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("comment %s: not found", commentID)
	}
	if err != nil {
		return nil, err
	}
	return resolved, nil
}
