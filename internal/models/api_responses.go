// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package models

// APIResponse is the uniform envelope for every REST response.
type APIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *APIError   `json:"error,omitempty"`
}

// APIError carries a machine-readable code plus a human-readable message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// RegisterRequest is the body of POST /api/v1/auth/register.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"display_name" validate:"max=128"`
}

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	Title           string `json:"title" validate:"required,min=1,max=200"`
	Description     string `json:"description" validate:"max=2000"`
	MaxParticipants int    `json:"max_participants" validate:"gte=0,lte=100"`
}

// SessionStatusRequest is the body of POST /api/v1/sessions/{id}/status.
type SessionStatusRequest struct {
	Status SessionStatus `json:"status" validate:"required"`
}
