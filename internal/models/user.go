// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package models

import "time"

// User is a registered account. Authentication is deliberately thin: a
// username, a bcrypt password hash, and a coarse role used only by the
// HTTP layer. Session-level capability comes from Participant.Level.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser is the wire representation of a user embedded in broadcasts
// and rosters: identity only, no credentials.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Public returns the wire representation of u.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username}
}
