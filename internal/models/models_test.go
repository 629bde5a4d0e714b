// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package models

import "testing"

func TestPermissionLevelOrdering(t *testing.T) {
	tests := []struct {
		name  string
		level PermissionLevel
		min   PermissionLevel
		want  bool
	}{
		{"view is at least view", PermissionView, PermissionView, true},
		{"view is not comment", PermissionView, PermissionComment, false},
		{"view cannot edit", PermissionView, PermissionEdit, false},
		{"comment is at least view", PermissionComment, PermissionView, true},
		{"comment cannot edit", PermissionComment, PermissionEdit, false},
		{"edit can comment", PermissionEdit, PermissionComment, true},
		{"edit is not admin", PermissionEdit, PermissionAdmin, false},
		{"admin can do everything", PermissionAdmin, PermissionView, true},
		{"admin can edit", PermissionAdmin, PermissionEdit, true},
		{"unknown level ranks below view", PermissionLevel("owner"), PermissionView, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.AtLeast(tt.min); got != tt.want {
				t.Errorf("%s.AtLeast(%s) = %v, want %v", tt.level, tt.min, got, tt.want)
			}
		})
	}
}

func TestPermissionLevelCapabilities(t *testing.T) {
	if PermissionView.CanComment() {
		t.Error("view should not be able to comment")
	}
	if PermissionComment.CanEdit() {
		t.Error("comment should not be able to edit")
	}
	if !PermissionComment.CanComment() {
		t.Error("comment should be able to comment")
	}
	if !PermissionEdit.CanEdit() {
		t.Error("edit should be able to edit")
	}
	if !PermissionAdmin.CanEdit() {
		t.Error("admin should be able to edit")
	}
}

func TestPermissionLevelValid(t *testing.T) {
	for _, level := range []PermissionLevel{PermissionView, PermissionComment, PermissionEdit, PermissionAdmin} {
		if !level.Valid() {
			t.Errorf("%s should be valid", level)
		}
	}
	if PermissionLevel("superuser").Valid() {
		t.Error("superuser should not be valid")
	}
}

func TestSessionStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from SessionStatus
		to   SessionStatus
		want bool
	}{
		{"active to paused", StatusActive, StatusPaused, true},
		{"paused to active", StatusPaused, StatusActive, true},
		{"active to completed", StatusActive, StatusCompleted, true},
		{"completed to archived", StatusCompleted, StatusArchived, true},
		{"active to archived skips completed", StatusActive, StatusArchived, false},
		{"paused to completed", StatusPaused, StatusCompleted, false},
		{"completed to active", StatusCompleted, StatusActive, false},
		{"archived is terminal", StatusArchived, StatusActive, false},
		{"archived to completed", StatusArchived, StatusCompleted, false},
		{"active to active", StatusActive, StatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestSessionSummary(t *testing.T) {
	s := &Session{
		ID:        "sess-1",
		Title:     "Late Night Jam",
		CreatorID: "user-1",
		Version:   7,
		Status:    StatusActive,
	}

	sum := s.Summary()
	if sum.ID != s.ID || sum.Title != s.Title || sum.Version != 7 || sum.Status != StatusActive {
		t.Errorf("Summary() lost fields: %+v", sum)
	}
}
