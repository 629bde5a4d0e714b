// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

// Package models defines the core domain types for Cadenza: collaborative
// sessions, participants, the append-only change/comment/event logs, and
// user accounts. No persistence or transport logic lives here.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// SessionStatus is the lifecycle state of a collaborative session.
type SessionStatus string

// Session lifecycle states. Editing is only possible while a session is
// active; completed and archived sessions keep their history readable.
const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusArchived  SessionStatus = "archived"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is allowed.
//
// The state machine is:
//
//	active <-> paused
//	active  -> completed (terminal for editing)
//	completed -> archived (terminal)
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusActive:
		return next == StatusPaused || next == StatusCompleted
	case StatusPaused:
		return next == StatusActive
	case StatusCompleted:
		return next == StatusArchived
	default:
		return false
	}
}

// Session is one collaborative composition workspace. It owns its
// participants and the append-only change/comment/event logs.
//
// Version starts at 1 and increases by exactly 1 per accepted composition
// change. Concurrent changes serialize against the counter in the store;
// Version never decreases and is never skipped.
type Session struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatorID   string `json:"creator_id"`

	// Composition is the current state of the shared composition, an opaque
	// structured blob owned by the clients. The relay merges nothing; it
	// stores the latest snapshot and counts versions.
	Composition json.RawMessage `json:"composition"`
	Version     uint64          `json:"version"`

	Status          SessionStatus `json:"status"`
	MaxParticipants int           `json:"max_participants"`

	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastActivity time.Time `json:"last_activity"`
}

// SessionSummary is the reduced session representation used in list
// responses and in the session_state message sent on join.
type SessionSummary struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	CreatorID    string          `json:"creator_id"`
	Composition  json.RawMessage `json:"composition,omitempty"`
	Version      uint64          `json:"version"`
	Status       SessionStatus   `json:"status"`
	LastActivity time.Time       `json:"last_activity"`
}

// Summary returns the session's summary representation. The composition
// snapshot is included; callers that only need metadata may clear it.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		Title:        s.Title,
		Description:  s.Description,
		CreatorID:    s.CreatorID,
		Composition:  s.Composition,
		Version:      s.Version,
		Status:       s.Status,
		LastActivity: s.LastActivity,
	}
}
