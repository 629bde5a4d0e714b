// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/cadenzalab/cadenza/internal/logging"
)

type contextKey string

// ClaimsContextKey is where authenticated claims live in the request
// context.
const ClaimsContextKey contextKey = "claims"

// TokenCookieName is the HTTP-only cookie set at login.
const TokenCookieName = "cadenza_token"

// Middleware enforces JWT authentication on HTTP handlers.
type Middleware struct {
	jwtManager *JWTManager
}

// NewMiddleware creates authentication middleware over a token manager.
func NewMiddleware(jwtManager *JWTManager) *Middleware {
	return &Middleware{jwtManager: jwtManager}
}

// Authenticate rejects requests without a valid token and stores the
// claims in the request context.
//
// The token is taken from, in order: the Authorization Bearer header, the
// session cookie, and the token query parameter. The query parameter
// exists for WebSocket clients, which cannot set headers from a browser.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
			return
		}

		claims, err := m.jwtManager.ValidateToken(tokenString)
		if err != nil {
			logging.Debug().Err(err).Str("path", r.URL.Path).Msg("token validation failed")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken pulls the JWT out of a request.
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
			return token
		}
		return ""
	}
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// ClaimsFromContext returns the authenticated claims, or nil when the
// request did not pass through Authenticate.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsContextKey).(*Claims)
	return claims
}
