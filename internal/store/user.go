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

	"github.com/cadenzalab/cadenza/internal/models"
)

// CreateUser persists a new user account. The username index entry and the
// user record are written in one transaction, so concurrent registrations
// of the same username cannot both succeed.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	err := s.update(func(txn *badger.Txn) error {
		nameKey := []byte(usernameKeyPrefix + user.Username)
		_, err := txn.Get(nameKey)
		if err == nil {
			return ErrUsernameTaken
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(nameKey, []byte(user.ID)); err != nil {
			return err
		}
		return setJSON(txn, []byte(userKeyPrefix+user.ID), user)
	})
	if err != nil && !errors.Is(err, ErrUsernameTaken) {
		return fmt.Errorf("create user %s: %w", user.Username, err)
	}
	return err
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(userKeyPrefix+id), &user)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &user, nil
}

// GetUserByUsername resolves a username through the index and returns the
// user record.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(usernameKeyPrefix + username))
		if err != nil {
			return err
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, []byte(userKeyPrefix+id), &user)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username %s: %w", username, err)
	}
	return &user, nil
}
