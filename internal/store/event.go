// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package store

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dgraph-io/badger/v4"

	"github.com/cadenzalab/cadenza/internal/models"
)

// AppendEvent writes an audit event to the session's event log. Events are
// written by the audit consumer, not by the relay hot path, so failures
// here never affect message delivery.
func (s *Store) AppendEvent(ctx context.Context, event *models.Event) error {
	err := s.update(func(txn *badger.Txn) error {
		key := logKey(eventKeyPrefix, event.SessionID, event.Timestamp, event.ID)
		return setJSON(txn, key, event)
	})
	if err != nil {
		return fmt.Errorf("append event %s/%s: %w", event.SessionID, event.Type, err)
	}
	return nil
}

// ListEvents returns audit events for a session, newest first.
func (s *Store) ListEvents(ctx context.Context, sessionID string, limit int, cursor *string) ([]models.Event, *string, error) {
	var events []models.Event
	next, err := s.scanLogReverse(eventKeyPrefix, sessionID, limit, cursor, func(val []byte) error {
		var e models.Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list events %s: %w", sessionID, err)
	}
	return events, next, nil
}
