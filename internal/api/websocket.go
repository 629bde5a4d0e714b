// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/models"
)

// getUpgrader builds the WebSocket upgrader with origin checking tied to
// the configured CORS origins.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkWebSocketOrigin,
	}
}

// checkWebSocketOrigin allows same-origin requests and any origin listed
// in server.cors_origins. "*" disables the check.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin.
		return true
	}
	for _, allowed := range h.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket origin rejected")
	return false
}

// SessionWebSocket upgrades the connection and joins the caller to the
// session's realtime room. Joins are only accepted against active
// sessions; completed and archived sessions stay readable over REST.
func (h *Handler) SessionWebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	if session.Status != models.StatusActive {
		respondError(w, http.StatusConflict, "SESSION_NOT_ACTIVE", "session is not accepting connections", nil)
		return
	}
	if session.MaxParticipants > 0 && h.hub.RoomSize(session.ID) >= session.MaxParticipants {
		respondError(w, http.StatusConflict, "SESSION_FULL", "session is at its participant limit", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Error().Err(err).Msg("websocket upgrade error")
		return
	}

	client, err := h.relay.Connect(r.Context(), conn, session, user)
	if err != nil {
		logging.Error().Err(err).
			Str("session_id", session.ID).
			Str("user_id", user.ID).
			Msg("websocket join failed")
		_ = conn.Close()
		return
	}
	client.Start()
}
