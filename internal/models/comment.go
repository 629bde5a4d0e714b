// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package models

import "time"

// Comment is one append-only discussion entry in a session, optionally
// threaded via ParentID and attached to a musical position.
type Comment struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`

	Content  string   `json:"content"`
	Position Position `json:"position,omitempty"`

	// ParentID references another comment in the same session when this
	// comment is a threaded reply.
	ParentID string `json:"parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Resolved  bool      `json:"is_resolved"`
}
