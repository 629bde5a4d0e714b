// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// EventType tags audit records of session activity.
type EventType string

// Audit event types written by the relay.
const (
	EventUserJoined         EventType = "user_joined"
	EventUserLeft           EventType = "user_left"
	EventCompositionChanged EventType = "composition_changed"
	EventCommentAdded       EventType = "comment_added"
	EventPlaybackSync       EventType = "playback_sync"
)

// Event is one append-only audit record of presence and broadcast activity
// in a session. Events are written asynchronously by the audit pipeline;
// Processed marks records the pipeline has delivered to storage.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id,omitempty"`
	Type      EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Processed bool            `json:"processed"`
}
