// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package models

import "time"

// PermissionLevel is a participant's ordered capability tier within one
// session: view < comment < edit < admin. Each tier includes everything
// below it.
type PermissionLevel string

// Permission tiers.
const (
	PermissionView    PermissionLevel = "view"
	PermissionComment PermissionLevel = "comment"
	PermissionEdit    PermissionLevel = "edit"
	PermissionAdmin   PermissionLevel = "admin"
)

// permissionRank orders the tiers. Unknown levels rank below view.
var permissionRank = map[PermissionLevel]int{
	PermissionView:    1,
	PermissionComment: 2,
	PermissionEdit:    3,
	PermissionAdmin:   4,
}

// Valid reports whether p is a known permission level.
func (p PermissionLevel) Valid() bool {
	_, ok := permissionRank[p]
	return ok
}

// AtLeast reports whether p grants at least the capability of min.
func (p PermissionLevel) AtLeast(min PermissionLevel) bool {
	return permissionRank[p] >= permissionRank[min]
}

// CanEdit reports whether p allows composition changes.
func (p PermissionLevel) CanEdit() bool { return p.AtLeast(PermissionEdit) }

// CanComment reports whether p allows posting comments.
func (p PermissionLevel) CanComment() bool { return p.AtLeast(PermissionComment) }

// Participant is a user's membership in one session. The (SessionID, UserID)
// pair is unique per session. Participants are created lazily on first
// connect and never hard-deleted; disconnecting only marks them offline.
type Participant struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	Level     PermissionLevel `json:"permission_level"`

	Online   bool      `json:"is_online"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`

	// Contribution counters, bumped by the relay on accepted operations.
	Contributions int `json:"contributions_count"`
	EditsMade     int `json:"edits_made"`
	CommentsMade  int `json:"comments_made"`
}
