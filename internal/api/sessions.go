// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/models"
	"github.com/cadenzalab/cadenza/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CreateSession creates a new active session owned by the caller.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	var req models.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON", nil)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "title is required, at most 200 characters", nil)
		return
	}

	maxParticipants := req.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = h.cfg.Collab.MaxParticipants
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Description:     req.Description,
		CreatorID:       user.ID,
		Version:         1,
		Status:          models.StatusActive,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastActivity:    now,
	}

	if err := h.store.CreateSession(r.Context(), session); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create session", err)
		return
	}

	logging.Info().
		Str("session_id", session.ID).
		Str("creator_id", user.ID).
		Msg("session created")
	respondData(w, http.StatusCreated, session)
}

// ListSessions returns summaries of all sessions, most recently active
// first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list sessions", err)
		return
	}
	respondData(w, http.StatusOK, sessions)
}

// GetSession returns one session including its composition snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	respondData(w, http.StatusOK, session)
}

// UpdateSessionStatus moves the session through its lifecycle. Only the
// creator or a session admin may transition.
func (h *Handler) UpdateSessionStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	if !h.isSessionAdmin(r, session, user) {
		respondError(w, http.StatusForbidden, "PERMISSION_DENIED", "admin permission required to change session status", nil)
		return
	}

	var req models.SessionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON", nil)
		return
	}
	if !req.Status.Valid() {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "status must be active, paused, completed, or archived", nil)
		return
	}

	updated, err := h.store.TransitionSession(r.Context(), session.ID, req.Status)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			respondError(w, http.StatusConflict, "INVALID_TRANSITION", "session cannot move from "+string(session.Status)+" to "+string(req.Status), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to update session status", err)
		return
	}

	logging.Info().
		Str("session_id", session.ID).
		Str("from", string(session.Status)).
		Str("to", string(updated.Status)).
		Msg("session status changed")
	respondData(w, http.StatusOK, updated)
}

// ListSessionChanges returns the change log, newest first, with cursor
// pagination.
func (h *Handler) ListSessionChanges(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	cursor := cursorParam(r)
	changes, next, err := h.store.ListChanges(r.Context(), session.ID, limit, cursor)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list changes", err)
		return
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"changes":     changes,
		"next_cursor": next,
	})
}

// ListSessionComments returns the comment log, newest first.
func (h *Handler) ListSessionComments(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	cursor := cursorParam(r)
	comments, next, err := h.store.ListComments(r.Context(), session.ID, limit, cursor)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list comments", err)
		return
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"comments":    comments,
		"next_cursor": next,
	})
}

// ResolveComment marks a comment resolved. Requires comment permission in
// the session.
func (h *Handler) ResolveComment(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	participant, err := h.store.GetParticipant(r.Context(), session.ID, user.ID)
	if err != nil || !participant.Level.CanComment() {
		respondError(w, http.StatusForbidden, "PERMISSION_DENIED", "comment permission required", nil)
		return
	}

	comment, err := h.store.ResolveComment(r.Context(), session.ID, chi.URLParam(r, "commentID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "comment not found", nil)
		return
	}
	respondData(w, http.StatusOK, comment)
}

// ListSessionParticipants returns the full roster, online and offline.
func (h *Handler) ListSessionParticipants(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	participants, err := h.store.ListParticipants(r.Context(), session.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list participants", err)
		return
	}
	respondData(w, http.StatusOK, participants)
}

// ListSessionEvents returns the audit log. Creator or session admin only.
func (h *Handler) ListSessionEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	if !h.isSessionAdmin(r, session, user) {
		respondError(w, http.StatusForbidden, "PERMISSION_DENIED", "admin permission required to read the audit log", nil)
		return
	}

	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	cursor := cursorParam(r)
	events, next, err := h.store.ListEvents(r.Context(), session.ID, limit, cursor)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list events", err)
		return
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"events":      events,
		"next_cursor": next,
	})
}

// SessionSuggestions runs the analyzer over the recent change history.
// Results are memoized per (session, version): the analyzer is
// deterministic, so a cached entry stays valid until the next accepted
// change bumps the version.
func (h *Handler) SessionSuggestions(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("%s:%d", session.ID, session.Version)
	if cached, ok := h.suggestCache.Get(cacheKey); ok {
		respondData(w, http.StatusOK, cached)
		return
	}

	recent, _, err := h.store.ListChanges(r.Context(), session.ID, 100, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read change history", err)
		return
	}

	suggestions, err := h.analyzer.Suggest(r.Context(), session, recent)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to analyze session", err)
		return
	}
	h.suggestCache.Set(cacheKey, suggestions)
	respondData(w, http.StatusOK, suggestions)
}

// loadSession fetches the {id} session or writes the 404.
func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	id := chi.URLParam(r, "id")
	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "session not found", nil)
			return nil, false
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load session", err)
		return nil, false
	}
	return session, true
}

// isSessionAdmin reports whether the user created the session or holds
// admin permission in it.
func (h *Handler) isSessionAdmin(r *http.Request, session *models.Session, user models.PublicUser) bool {
	if session.CreatorID == user.ID {
		return true
	}
	participant, err := h.store.GetParticipant(r.Context(), session.ID, user.ID)
	return err == nil && participant.Level == models.PermissionAdmin
}

// cursorParam reads the pagination cursor, nil when absent.
func cursorParam(r *http.Request) *string {
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		return &raw
	}
	return nil
}
