// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package collab

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/cadenzalab/cadenza/internal/models"
)

// Inbound message types accepted from clients.
const (
	TypeCompositionChange = "composition_change"
	TypeComment           = "comment"
	TypePlaybackSync      = "playback_sync"
	TypeCursorPosition    = "cursor_position"
	TypeHeartbeat         = "heartbeat"
)

// Outbound message types sent to clients.
const (
	TypeConnectionEstablished = "connection.established"
	TypeSessionState          = "session_state"
	TypeCursorUpdate          = "cursor_update"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypeHeartbeatResponse     = "heartbeat_response"
	TypeError                 = "error"
)

// Error codes carried in error replies. A rejected message never closes
// the connection; the sender is told why and may correct and resend.
const (
	CodeMalformedMessage  = "malformed_message"
	CodeUnknownType       = "unknown_type"
	CodePermissionDenied  = "permission_denied"
	CodeRateLimited       = "rate_limited"
	CodeSessionNotActive  = "session_not_active"
	CodePersistenceFailed = "persistence_failed"
)

// Envelope is the wire frame for every message in both directions: a type
// tag plus a type-specific data object.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChangeSubmission is the data object of an inbound composition_change.
type ChangeSubmission struct {
	ChangeType    string          `json:"change_type" validate:"required,max=64"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
	PreviousState json.RawMessage `json:"previous_state,omitempty"`
	Position      models.Position `json:"position,omitempty"`
}

// CommentSubmission is the data object of an inbound comment.
type CommentSubmission struct {
	Content  string          `json:"content" validate:"required,max=2000"`
	Position models.Position `json:"position,omitempty"`
	ParentID string          `json:"parent_id,omitempty"`
}

// connectionEstablished is sent once, immediately after a successful join.
type connectionEstablished struct {
	SessionID  string                 `json:"session_id"`
	User       models.PublicUser      `json:"user"`
	Permission models.PermissionLevel `json:"permission_level"`
}

// sessionState carries the full current snapshot and online roster. Sent
// exactly once per connection, right after connection.established. Clients
// that suspect they missed a broadcast reconnect to get a fresh one.
type sessionState struct {
	Session      models.SessionSummary `json:"session"`
	Participants []models.Participant  `json:"participants"`
}

// changeBroadcast fans an accepted change out to the whole session,
// including the sender, which uses Version to confirm its own edit.
type changeBroadcast struct {
	Change  *models.Change `json:"change"`
	Version uint64         `json:"version"`
}

type commentBroadcast struct {
	Comment *models.Comment `json:"comment"`
}

// presenceBroadcast relays ephemeral per-user state (playback position,
// cursor) without interpretation.
type presenceBroadcast struct {
	User models.PublicUser `json:"user"`
	Data json.RawMessage   `json:"data"`
}

type userJoined struct {
	User        models.PublicUser   `json:"user"`
	Participant *models.Participant `json:"participant"`
	OnlineCount int                 `json:"online_count"`
}

type userLeft struct {
	User models.PublicUser `json:"user"`
}

type heartbeatResponse struct {
	ServerTime time.Time `json:"server_time"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// marshalMessage wraps a data object in an Envelope and marshals it once,
// so a broadcast serializes a single time no matter how many clients
// receive it.
func marshalMessage(msgType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Data: raw})
}

// mustMarshalError builds an error reply. The payload is two strings, so
// marshaling cannot fail.
func mustMarshalError(code, message string) []byte {
	raw, _ := marshalMessage(TypeError, errorPayload{Code: code, Message: message})
	return raw
}
