// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

// Package collab implements the real-time collaboration relay: per-session
// WebSocket rooms, permission-gated message handling, and broadcast fan-out.
//
// The relay stores and forwards. It never interprets composition payloads
// or merges concurrent edits; clients own the musical semantics, the relay
// owns ordering, permissions, and durability.
package collab

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/metrics"
	"github.com/cadenzalab/cadenza/internal/models"
	"github.com/cadenzalab/cadenza/internal/store"
)

// EventPublisher receives audit events emitted by the relay. Publishing is
// fire-and-forget; delivery and persistence are the audit pipeline's
// problem, never the relay hot path's.
type EventPublisher interface {
	Publish(event *models.Event)
}

// Config tunes per-connection relay behavior.
type Config struct {
	// SendBufferSize is the per-client outbound queue length. A client
	// whose queue fills is disconnected as a slow consumer.
	SendBufferSize int

	// MessagesPerSecond and MessageBurst bound inbound message rate per
	// connection.
	MessagesPerSecond float64
	MessageBurst      int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SendBufferSize:    256,
		MessagesPerSecond: 20,
		MessageBurst:      40,
	}
}

// Relay wires inbound WebSocket messages to persistence and broadcast.
type Relay struct {
	hub      *Hub
	store    *store.Store
	events   EventPublisher
	cfg      Config
	validate *validator.Validate
}

// NewRelay creates a relay over the given hub, store, and audit publisher.
func NewRelay(hub *Hub, st *store.Store, events EventPublisher, cfg Config) *Relay {
	return &Relay{
		hub:      hub,
		store:    st,
		events:   events,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Connect performs the join handshake for an already-upgraded connection:
// participant upsert, room registration, connection.established plus one
// session_state to the joiner, and a user_joined broadcast to the room.
// The caller starts the returned client's pumps with Start.
//
// The session must be active; the HTTP layer checks before upgrading.
// The session creator joins as admin, everyone else defaults to edit on
// first join and keeps their stored level afterwards.
func (r *Relay) Connect(ctx context.Context, conn *websocket.Conn, session *models.Session, user models.PublicUser) (*Client, error) {
	defaultLevel := models.PermissionEdit
	if user.ID == session.CreatorID {
		defaultLevel = models.PermissionAdmin
	}

	participant, created, err := r.store.UpsertParticipant(ctx, session.ID, user, defaultLevel)
	if err != nil {
		return nil, err
	}
	participant, err = r.store.SetParticipantOnline(ctx, session.ID, user.ID, true)
	if err != nil {
		return nil, err
	}

	client := newClient(r.hub, r, conn, session.ID, user, participant.Level, r.cfg)
	r.hub.Register <- client

	established, err := marshalMessage(TypeConnectionEstablished, connectionEstablished{
		SessionID:  session.ID,
		User:       user,
		Permission: participant.Level,
	})
	if err != nil {
		return nil, err
	}
	client.sendDirect(established)

	if err := r.sendSessionState(ctx, client); err != nil {
		logging.Error().Err(err).Str("session_id", session.ID).Msg("failed to send session state")
	}

	online, err := r.store.ListOnlineParticipants(ctx, session.ID)
	if err != nil {
		logging.Error().Err(err).Str("session_id", session.ID).Msg("failed to list online participants")
	}
	joined, err := marshalMessage(TypeUserJoined, userJoined{
		User:        user,
		Participant: participant,
		OnlineCount: len(online),
	})
	if err == nil {
		r.hub.Broadcast(session.ID, nil, TypeUserJoined, joined)
	}

	r.publishEvent(session.ID, user.ID, models.EventUserJoined, map[string]interface{}{
		"username":     user.Username,
		"first_join":   created,
		"permission":   participant.Level,
		"online_count": len(online),
	})

	return client, nil
}

// sendSessionState sends the joiner its one full snapshot: current
// composition, version, and the online roster.
func (r *Relay) sendSessionState(ctx context.Context, c *Client) error {
	session, err := r.store.GetSession(ctx, c.sessionID)
	if err != nil {
		return err
	}
	online, err := r.store.ListOnlineParticipants(ctx, c.sessionID)
	if err != nil {
		return err
	}

	state, err := marshalMessage(TypeSessionState, sessionState{
		Session:      session.Summary(),
		Participants: online,
	})
	if err != nil {
		return err
	}
	c.sendDirect(state)
	return nil
}

// handleInbound dispatches one raw inbound frame. Every failure path sends
// a categorized error reply to the sender; nothing here closes the
// connection or reaches other participants.
func (r *Relay) handleInbound(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		metrics.WSMessagesReceived.WithLabelValues("invalid").Inc()
		c.sendError(CodeMalformedMessage, "message must be a JSON object with a type field")
		return
	}
	metrics.WSMessagesReceived.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case TypeCompositionChange:
		r.handleCompositionChange(c, env.Data)
	case TypeComment:
		r.handleComment(c, env.Data)
	case TypePlaybackSync:
		r.handlePlaybackSync(c, env.Data)
	case TypeCursorPosition:
		r.handleCursorPosition(c, env.Data)
	case TypeHeartbeat:
		r.handleHeartbeat(c)
	default:
		c.sendError(CodeUnknownType, "unknown message type: "+env.Type)
	}
}

// handleCompositionChange validates, persists, and broadcasts one edit.
// The broadcast includes the sender: the echoed version number is the
// sender's confirmation that its edit was accepted.
func (r *Relay) handleCompositionChange(c *Client, data json.RawMessage) {
	if !c.level.CanEdit() {
		c.sendError(CodePermissionDenied, "edit permission required to modify the composition")
		return
	}

	var sub ChangeSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		c.sendError(CodeMalformedMessage, "invalid composition_change payload")
		return
	}
	if err := r.validate.Struct(&sub); err != nil {
		c.sendError(CodeMalformedMessage, "composition_change requires change_type and payload")
		return
	}

	change := &models.Change{
		ID:            uuid.NewString(),
		SessionID:     c.sessionID,
		UserID:        c.user.ID,
		Username:      c.user.Username,
		ChangeType:    sub.ChangeType,
		Payload:       sub.Payload,
		PreviousState: sub.PreviousState,
		Position:      sub.Position,
		Timestamp:     time.Now().UTC(),
	}

	version, err := r.store.AppendChange(context.Background(), change)
	if err != nil {
		r.sendPersistenceError(c, err, "change")
		return
	}

	payload, err := marshalMessage(TypeCompositionChange, changeBroadcast{Change: change, Version: version})
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal change broadcast")
		return
	}
	r.hub.Broadcast(c.sessionID, nil, TypeCompositionChange, payload)

	r.publishEvent(c.sessionID, c.user.ID, models.EventCompositionChanged, map[string]interface{}{
		"change_id":   change.ID,
		"change_type": change.ChangeType,
		"version":     version,
	})
}

func (r *Relay) handleComment(c *Client, data json.RawMessage) {
	if !c.level.CanComment() {
		c.sendError(CodePermissionDenied, "comment permission required")
		return
	}

	var sub CommentSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		c.sendError(CodeMalformedMessage, "invalid comment payload")
		return
	}
	if err := r.validate.Struct(&sub); err != nil {
		c.sendError(CodeMalformedMessage, "comment requires non-empty content up to 2000 characters")
		return
	}

	comment := &models.Comment{
		ID:        uuid.NewString(),
		SessionID: c.sessionID,
		UserID:    c.user.ID,
		Username:  c.user.Username,
		Content:   sub.Content,
		Position:  sub.Position,
		ParentID:  sub.ParentID,
		CreatedAt: time.Now().UTC(),
	}

	if err := r.store.AppendComment(context.Background(), comment); err != nil {
		r.sendPersistenceError(c, err, "comment")
		return
	}

	payload, err := marshalMessage(TypeComment, commentBroadcast{Comment: comment})
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal comment broadcast")
		return
	}
	r.hub.Broadcast(c.sessionID, nil, TypeComment, payload)

	r.publishEvent(c.sessionID, c.user.ID, models.EventCommentAdded, map[string]interface{}{
		"comment_id": comment.ID,
	})
}

// handlePlaybackSync relays transport state (play/pause/seek) to everyone
// else in the room. Any participant may sync playback; the message is not
// part of the composition record, only the audit log sees it.
func (r *Relay) handlePlaybackSync(c *Client, data json.RawMessage) {
	if len(data) == 0 {
		c.sendError(CodeMalformedMessage, "playback_sync requires a data payload")
		return
	}

	payload, err := marshalMessage(TypePlaybackSync, presenceBroadcast{User: c.user, Data: data})
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal playback broadcast")
		return
	}
	r.hub.Broadcast(c.sessionID, c, TypePlaybackSync, payload)

	r.publishEvent(c.sessionID, c.user.ID, models.EventPlaybackSync, nil)
}

// handleCursorPosition relays ephemeral cursor state to everyone else in
// the room. Not persisted, not audited.
func (r *Relay) handleCursorPosition(c *Client, data json.RawMessage) {
	if len(data) == 0 {
		c.sendError(CodeMalformedMessage, "cursor_position requires a data payload")
		return
	}

	payload, err := marshalMessage(TypeCursorUpdate, presenceBroadcast{User: c.user, Data: data})
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal cursor broadcast")
		return
	}
	r.hub.Broadcast(c.sessionID, c, TypeCursorUpdate, payload)
}

// handleHeartbeat refreshes the participant's last-seen time and answers
// the sender only.
func (r *Relay) handleHeartbeat(c *Client) {
	now, err := r.store.TouchParticipant(context.Background(), c.sessionID, c.user.ID)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", c.user.ID).Msg("heartbeat touch failed")
		now = time.Now().UTC()
	}

	payload, err := marshalMessage(TypeHeartbeatResponse, heartbeatResponse{ServerTime: now})
	if err != nil {
		return
	}
	c.sendDirect(payload)
}

// handleDisconnect marks the participant offline and tells the room.
// Called from the read pump before the client unregisters.
func (r *Relay) handleDisconnect(c *Client) {
	ctx := context.Background()
	if _, err := r.store.SetParticipantOnline(ctx, c.sessionID, c.user.ID, false); err != nil {
		logging.Warn().Err(err).Str("user_id", c.user.ID).Msg("failed to mark participant offline")
	}

	payload, err := marshalMessage(TypeUserLeft, userLeft{User: c.user})
	if err == nil {
		r.hub.Broadcast(c.sessionID, c, TypeUserLeft, payload)
	}

	r.publishEvent(c.sessionID, c.user.ID, models.EventUserLeft, map[string]interface{}{
		"username": c.user.Username,
	})
}

// sendPersistenceError maps store failures to categorized error replies.
func (r *Relay) sendPersistenceError(c *Client, err error, what string) {
	switch {
	case errors.Is(err, store.ErrSessionNotActive):
		c.sendError(CodeSessionNotActive, "session is not accepting changes")
	case errors.Is(err, store.ErrSessionNotFound):
		c.sendError(CodeSessionNotActive, "session no longer exists")
	default:
		logging.Error().Err(err).Str("session_id", c.sessionID).Msgf("failed to persist %s", what)
		c.sendError(CodePersistenceFailed, "could not record "+what+", please retry")
	}
}

// publishEvent emits an audit event. Marshal failures are swallowed after
// logging; audit must never break the relay.
func (r *Relay) publishEvent(sessionID, userID string, typ models.EventType, payload map[string]interface{}) {
	if r.events == nil {
		return
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			logging.Warn().Err(err).Msg("failed to marshal audit payload")
		} else {
			raw = data
		}
	}

	r.events.Publish(&models.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Type:      typ,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	})
}
