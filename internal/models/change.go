// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Known composition change kinds. The relay treats the kind as an opaque
// tag; this list mirrors what the clients produce and is not enforced.
const (
	ChangeNoteAdd          = "note_add"
	ChangeNoteRemove       = "note_remove"
	ChangeNoteEdit         = "note_edit"
	ChangeChordAdd         = "chord_add"
	ChangeChordRemove      = "chord_remove"
	ChangeChordEdit        = "chord_edit"
	ChangeTempoChange      = "tempo_change"
	ChangeKeyChange        = "key_change"
	ChangeInstrumentAdd    = "instrument_add"
	ChangeInstrumentRemove = "instrument_remove"
	ChangeStructureChange  = "structure_change"
)

// Position locates a change or comment within the composition. All fields
// are optional; zero values mean "no position given".
type Position struct {
	Measure   int     `json:"measure,omitempty"`
	Beat      float64 `json:"beat,omitempty"`
	TrackName string  `json:"track_name,omitempty"`
}

// Change is one append-only entry in a session's edit log. Changes are
// immutable after creation except for the Reverted flag.
type Change struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`

	ChangeType string          `json:"change_type"`
	Payload    json.RawMessage `json:"payload"`

	// PreviousState optionally carries the pre-change state for undo.
	PreviousState json.RawMessage `json:"previous_state,omitempty"`

	Position Position `json:"position,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Reverted  bool      `json:"is_reverted"`
}
