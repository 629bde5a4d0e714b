// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

// Package api exposes the REST and WebSocket surface: authentication,
// session lifecycle, log reads, and the upgrade into the realtime relay.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cadenzalab/cadenza/internal/analysis"
	"github.com/cadenzalab/cadenza/internal/auth"
	"github.com/cadenzalab/cadenza/internal/cache"
	"github.com/cadenzalab/cadenza/internal/collab"
	"github.com/cadenzalab/cadenza/internal/config"
	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/metrics"
	"github.com/cadenzalab/cadenza/internal/models"
	"github.com/cadenzalab/cadenza/internal/store"
)

// Version is stamped at build time.
var Version = "dev"

// Handler implements all HTTP endpoints.
type Handler struct {
	store        *store.Store
	hub          *collab.Hub
	relay        *collab.Relay
	jwtManager   *auth.JWTManager
	analyzer     analysis.Provider
	cfg          *config.Config
	validate     *validator.Validate
	suggestCache *cache.LRU[[]analysis.Suggestion]
	startedAt    time.Time
}

// NewHandler wires the endpoint implementations.
func NewHandler(st *store.Store, hub *collab.Hub, relay *collab.Relay, jwtManager *auth.JWTManager, analyzer analysis.Provider, cfg *config.Config) *Handler {
	return &Handler{
		store:        st,
		hub:          hub,
		relay:        relay,
		jwtManager:   jwtManager,
		analyzer:     analyzer,
		cfg:          cfg,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		suggestCache: cache.NewLRU[[]analysis.Suggestion](512, 10*time.Minute),
		startedAt:    time.Now().UTC(),
	}
}

// Health reports liveness plus a few cheap gauges.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"version":        Version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"ws_connections": h.hub.ClientCount(),
	})
}

// Register creates a user account and returns a fresh token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON", nil)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "username must be 3-64 alphanumeric characters and password at least 8 characters", nil)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to process registration", err)
		return
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			metrics.RecordAuthAttempt("register", false)
			respondError(w, http.StatusConflict, "USERNAME_TAKEN", "username is already taken", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create user", err)
		return
	}

	token, err := h.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to issue token", err)
		return
	}

	metrics.RecordAuthAttempt("register", true)
	logging.Info().Str("username", sanitizeLogValue(user.Username)).Msg("user registered")
	h.setTokenCookie(w, token)
	respondData(w, http.StatusCreated, map[string]interface{}{
		"user":  user.Public(),
		"token": token,
	})
}

// Login verifies credentials and returns a token. Unknown username and
// wrong password are indistinguishable to the caller.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON", nil)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "username and password are required", nil)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "login failed", err)
			return
		}
		metrics.RecordAuthAttempt("login", false)
		respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		metrics.RecordAuthAttempt("login", false)
		logging.Warn().Str("username", sanitizeLogValue(req.Username)).Msg("failed login attempt")
		respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
		return
	}

	token, err := h.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to issue token", err)
		return
	}

	metrics.RecordAuthAttempt("login", true)
	h.setTokenCookie(w, token)
	respondData(w, http.StatusOK, map[string]interface{}{
		"user":  user.Public(),
		"token": token,
	})
}

// setTokenCookie sets the HTTP-only session cookie alongside the body
// token, for browser clients.
func (h *Handler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.Security.SessionTimeout.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Server.Environment == "production",
		SameSite: http.SameSiteLaxMode,
	})
}

// currentUser resolves the authenticated user's public identity.
func currentUser(r *http.Request) (models.PublicUser, bool) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		return models.PublicUser{}, false
	}
	return models.PublicUser{ID: claims.UserID, Username: claims.Username}, true
}
