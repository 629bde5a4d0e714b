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

// UpsertParticipant returns the participant for (sessionID, user), creating
// it with the given default permission level on first join. The returned
// bool is true when a new participant record was created.
func (s *Store) UpsertParticipant(ctx context.Context, sessionID string, user models.PublicUser, defaultLevel models.PermissionLevel) (*models.Participant, bool, error) {
	var participant models.Participant
	created := false

	err := s.update(func(txn *badger.Txn) error {
		key := participantKey(sessionID, user.ID)
		err := getJSON(txn, key, &participant)
		if errors.Is(err, badger.ErrKeyNotFound) {
			now := time.Now().UTC()
			participant = models.Participant{
				SessionID: sessionID,
				UserID:    user.ID,
				Username:  user.Username,
				Level:     defaultLevel,
				JoinedAt:  now,
				LastSeen:  now,
			}
			created = true
			return setJSON(txn, key, &participant)
		}
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert participant %s/%s: %w", sessionID, user.ID, err)
	}
	return &participant, created, nil
}

// GetParticipant retrieves the participant record for (sessionID, userID).
func (s *Store) GetParticipant(ctx context.Context, sessionID, userID string) (*models.Participant, error) {
	var participant models.Participant
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, participantKey(sessionID, userID), &participant)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s/%s: %w", sessionID, userID, err)
	}
	return &participant, nil
}

// SetParticipantOnline flips the online flag and refreshes last-seen.
// Participants are never deleted; leaving a session only marks offline.
func (s *Store) SetParticipantOnline(ctx context.Context, sessionID, userID string, online bool) (*models.Participant, error) {
	participant, err := s.mutateParticipant(sessionID, userID, func(p *models.Participant) {
		p.Online = online
		p.LastSeen = time.Now().UTC()
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}

// TouchParticipant refreshes a participant's last-seen timestamp. Called on
// heartbeat; the returned time is echoed back to the sender.
func (s *Store) TouchParticipant(ctx context.Context, sessionID, userID string) (time.Time, error) {
	now := time.Now().UTC()
	_, err := s.mutateParticipant(sessionID, userID, func(p *models.Participant) {
		p.LastSeen = now
	})
	if err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// ListParticipants returns all participants of a session ordered by join
// time, oldest first.
func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	var participants []models.Participant
	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(participantKeyPrefix + sessionID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p models.Participant
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return err
			}
			participants = append(participants, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list participants %s: %w", sessionID, err)
	}

	sort.Slice(participants, func(i, j int) bool {
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, nil
}

// ListOnlineParticipants returns the currently online roster of a session,
// as sent in the session_state join message.
func (s *Store) ListOnlineParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	all, err := s.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	online := all[:0]
	for _, p := range all {
		if p.Online {
			online = append(online, p)
		}
	}
	return online, nil
}

// mutateParticipant applies fn to an existing participant record inside a
// conflict-retried transaction.
func (s *Store) mutateParticipant(sessionID, userID string, fn func(*models.Participant)) (*models.Participant, error) {
	var participant models.Participant
	err := s.update(func(txn *badger.Txn) error {
		key := participantKey(sessionID, userID)
		if err := getJSON(txn, key, &participant); err != nil {
			return err
		}
		fn(&participant)
		return setJSON(txn, key, &participant)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mutate participant %s/%s: %w", sessionID, userID, err)
	}
	return &participant, nil
}
