// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cadenzalab/cadenza/internal/models"
	"github.com/cadenzalab/cadenza/internal/store"
)

// recordingPublisher captures audit events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *recordingPublisher) Publish(event *models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) byType(typ models.EventType) []*models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type relayFixture struct {
	hub     *Hub
	store   *store.Store
	relay   *Relay
	events  *recordingPublisher
	session *models.Session
}

func setupRelay(t *testing.T) *relayFixture {
	t.Helper()

	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hub := setupHub(t)
	events := &recordingPublisher{}
	relay := NewRelay(hub, st, events, DefaultConfig())

	now := time.Now().UTC()
	session := &models.Session{
		ID:              uuid.NewString(),
		Title:           "Evening Arrangement",
		CreatorID:       "user-creator",
		Version:         1,
		Status:          models.StatusActive,
		MaxParticipants: 10,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastActivity:    now,
	}
	if err := st.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	return &relayFixture{hub: hub, store: st, relay: relay, events: events, session: session}
}

// connect joins a user to the fixture session with the given permission
// level and drains the handshake messages.
func (f *relayFixture) connect(t *testing.T, userID string, level models.PermissionLevel) *Client {
	t.Helper()
	ctx := context.Background()
	user := models.PublicUser{ID: userID, Username: "u-" + userID}

	// Seed the participant so the join picks up the desired level.
	if _, _, err := f.store.UpsertParticipant(ctx, f.session.ID, user, level); err != nil {
		t.Fatalf("seed participant: %v", err)
	}

	client, err := f.relay.Connect(ctx, nil, f.session, user)
	if err != nil {
		t.Fatalf("connect %s: %v", userID, err)
	}
	time.Sleep(20 * time.Millisecond)
	drain(client)
	return client
}

// drain discards everything currently queued for a client.
func drain(c *Client) {
	for {
		select {
		case <-c.send:
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

// receiveEnvelope waits for one message and decodes its envelope.
func receiveEnvelope(t *testing.T, c *Client) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(receive(t, c), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func expectMessage(t *testing.T, c *Client, msgType string) Envelope {
	t.Helper()
	env := receiveEnvelope(t, c)
	if env.Type != msgType {
		t.Fatalf("expected %s, got %s: %s", msgType, env.Type, env.Data)
	}
	return env
}

func expectError(t *testing.T, c *Client, code string) {
	t.Helper()
	env := expectMessage(t, c, TypeError)
	var payload errorPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Code != code {
		t.Fatalf("expected error code %s, got %s (%s)", code, payload.Code, payload.Message)
	}
}

func changeMessage(t *testing.T, changeType string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"type": TypeCompositionChange,
		"data": map[string]interface{}{
			"change_type": changeType,
			"payload":     map[string]interface{}{"pitch": 64, "duration": 0.5},
			"position":    map[string]interface{}{"measure": 4, "beat": 2.0},
		},
	})
	if err != nil {
		t.Fatalf("marshal change: %v", err)
	}
	return raw
}

func TestConnectHandshake(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	user := models.PublicUser{ID: "user-1", Username: "ada"}

	client, err := f.relay.Connect(ctx, nil, f.session, user)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	env := expectMessage(t, client, TypeConnectionEstablished)
	var est connectionEstablished
	if err := json.Unmarshal(env.Data, &est); err != nil {
		t.Fatalf("unmarshal connection.established: %v", err)
	}
	if est.SessionID != f.session.ID || est.User.ID != "user-1" {
		t.Errorf("wrong establish payload: %+v", est)
	}
	if est.Permission != models.PermissionEdit {
		t.Errorf("first join should default to edit, got %s", est.Permission)
	}

	env = expectMessage(t, client, TypeSessionState)
	var state sessionState
	if err := json.Unmarshal(env.Data, &state); err != nil {
		t.Fatalf("unmarshal session_state: %v", err)
	}
	if state.Session.Version != 1 {
		t.Errorf("expected version 1 in snapshot, got %d", state.Session.Version)
	}
	if len(state.Participants) != 1 || state.Participants[0].UserID != "user-1" {
		t.Errorf("expected online roster with the joiner, got %+v", state.Participants)
	}

	// The joiner also sees its own user_joined broadcast.
	expectMessage(t, client, TypeUserJoined)

	p, err := f.store.GetParticipant(ctx, f.session.ID, "user-1")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if !p.Online {
		t.Error("participant should be online after connect")
	}

	if got := len(f.events.byType(models.EventUserJoined)); got != 1 {
		t.Errorf("expected 1 user_joined audit event, got %d", got)
	}
}

func TestConnectCreatorGetsAdmin(t *testing.T) {
	f := setupRelay(t)

	client, err := f.relay.Connect(context.Background(), nil, f.session,
		models.PublicUser{ID: f.session.CreatorID, Username: "creator"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if client.level != models.PermissionAdmin {
		t.Errorf("creator should join as admin, got %s", client.level)
	}
	drain(client)
}

func TestCompositionChangeBroadcastsToAll(t *testing.T) {
	f := setupRelay(t)
	editor := f.connect(t, "user-1", models.PermissionEdit)
	viewer := f.connect(t, "user-2", models.PermissionView)
	drain(editor)

	f.relay.handleInbound(editor, changeMessage(t, models.ChangeNoteAdd))
	time.Sleep(20 * time.Millisecond)

	// Sender and everyone else get the change; the echoed version is the
	// sender's acknowledgment.
	for _, c := range []*Client{editor, viewer} {
		env := expectMessage(t, c, TypeCompositionChange)
		var b changeBroadcast
		if err := json.Unmarshal(env.Data, &b); err != nil {
			t.Fatalf("unmarshal change broadcast: %v", err)
		}
		if b.Version != 2 {
			t.Errorf("expected version 2, got %d", b.Version)
		}
		if b.Change.ChangeType != models.ChangeNoteAdd || b.Change.UserID != "user-1" {
			t.Errorf("wrong change in broadcast: %+v", b.Change)
		}
	}

	session, err := f.store.GetSession(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Version != 2 {
		t.Errorf("expected persisted version 2, got %d", session.Version)
	}

	changes, _, err := f.store.ListChanges(context.Background(), f.session.ID, 10, nil)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 1 {
		t.Errorf("expected 1 persisted change, got %d", len(changes))
	}
}

func TestCompositionChangeDeniedForViewers(t *testing.T) {
	f := setupRelay(t)
	viewer := f.connect(t, "user-1", models.PermissionView)
	commenter := f.connect(t, "user-2", models.PermissionComment)
	other := f.connect(t, "user-3", models.PermissionEdit)
	drain(viewer)
	drain(commenter)

	f.relay.handleInbound(viewer, changeMessage(t, models.ChangeNoteAdd))
	expectError(t, viewer, CodePermissionDenied)

	f.relay.handleInbound(commenter, changeMessage(t, models.ChangeNoteAdd))
	expectError(t, commenter, CodePermissionDenied)

	// The rejection is private and nothing was recorded.
	assertNoMessage(t, other)
	session, _ := f.store.GetSession(context.Background(), f.session.ID)
	if session.Version != 1 {
		t.Errorf("denied changes must not move the version, got %d", session.Version)
	}
	changes, _, _ := f.store.ListChanges(context.Background(), f.session.ID, 10, nil)
	if len(changes) != 0 {
		t.Errorf("denied changes must not be logged, got %d", len(changes))
	}
}

func TestCompositionChangeRejectedWhenPaused(t *testing.T) {
	f := setupRelay(t)
	editor := f.connect(t, "user-1", models.PermissionEdit)
	other := f.connect(t, "user-2", models.PermissionEdit)
	drain(editor)

	if _, err := f.store.TransitionSession(context.Background(), f.session.ID, models.StatusPaused); err != nil {
		t.Fatalf("pause session: %v", err)
	}

	f.relay.handleInbound(editor, changeMessage(t, models.ChangeNoteAdd))
	expectError(t, editor, CodeSessionNotActive)
	assertNoMessage(t, other)
}

func TestCommentPermissions(t *testing.T) {
	f := setupRelay(t)
	commenter := f.connect(t, "user-1", models.PermissionComment)
	viewer := f.connect(t, "user-2", models.PermissionView)
	drain(commenter)

	comment, _ := json.Marshal(map[string]interface{}{
		"type": TypeComment,
		"data": map[string]interface{}{"content": "brighter voicing here?"},
	})

	f.relay.handleInbound(viewer, comment)
	expectError(t, viewer, CodePermissionDenied)

	f.relay.handleInbound(commenter, comment)
	time.Sleep(20 * time.Millisecond)

	// Comments go to the whole room, sender included.
	for _, c := range []*Client{commenter, viewer} {
		env := expectMessage(t, c, TypeComment)
		var b commentBroadcast
		if err := json.Unmarshal(env.Data, &b); err != nil {
			t.Fatalf("unmarshal comment broadcast: %v", err)
		}
		if b.Comment.Content != "brighter voicing here?" {
			t.Errorf("wrong comment content: %q", b.Comment.Content)
		}
	}

	comments, _, err := f.store.ListComments(context.Background(), f.session.ID, 10, nil)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 {
		t.Errorf("expected 1 persisted comment, got %d", len(comments))
	}
}

func TestPlaybackSyncExcludesSender(t *testing.T) {
	f := setupRelay(t)
	sender := f.connect(t, "user-1", models.PermissionView)
	other := f.connect(t, "user-2", models.PermissionView)
	drain(sender)

	syncMsg, _ := json.Marshal(map[string]interface{}{
		"type": TypePlaybackSync,
		"data": map[string]interface{}{"action": "play", "position_seconds": 12.5},
	})
	f.relay.handleInbound(sender, syncMsg)
	time.Sleep(20 * time.Millisecond)

	env := expectMessage(t, other, TypePlaybackSync)
	var b presenceBroadcast
	if err := json.Unmarshal(env.Data, &b); err != nil {
		t.Fatalf("unmarshal playback broadcast: %v", err)
	}
	if b.User.ID != "user-1" {
		t.Errorf("broadcast should carry the originator, got %s", b.User.ID)
	}
	assertNoMessage(t, sender)

	if got := len(f.events.byType(models.EventPlaybackSync)); got != 1 {
		t.Errorf("expected 1 playback_sync audit event, got %d", got)
	}
}

func TestCursorPositionExcludesSenderAndIsEphemeral(t *testing.T) {
	f := setupRelay(t)
	sender := f.connect(t, "user-1", models.PermissionView)
	other := f.connect(t, "user-2", models.PermissionView)
	drain(sender)

	cursor, _ := json.Marshal(map[string]interface{}{
		"type": TypeCursorPosition,
		"data": map[string]interface{}{"measure": 7, "beat": 1.0},
	})
	f.relay.handleInbound(sender, cursor)
	time.Sleep(20 * time.Millisecond)

	expectMessage(t, other, TypeCursorUpdate)
	assertNoMessage(t, sender)

	events, _, err := f.store.ListEvents(context.Background(), f.session.ID, 10, nil)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("cursor updates must not be persisted, got %d events", len(events))
	}
}

func TestHeartbeatAnswersSenderOnly(t *testing.T) {
	f := setupRelay(t)
	sender := f.connect(t, "user-1", models.PermissionView)
	other := f.connect(t, "user-2", models.PermissionView)
	drain(sender)

	before, err := f.store.GetParticipant(context.Background(), f.session.ID, "user-1")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	f.relay.handleInbound(sender, []byte(`{"type":"heartbeat"}`))

	env := expectMessage(t, sender, TypeHeartbeatResponse)
	var hb heartbeatResponse
	if err := json.Unmarshal(env.Data, &hb); err != nil {
		t.Fatalf("unmarshal heartbeat_response: %v", err)
	}
	if hb.ServerTime.IsZero() {
		t.Error("heartbeat_response missing server time")
	}
	assertNoMessage(t, other)

	after, err := f.store.GetParticipant(context.Background(), f.session.ID, "user-1")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if !after.LastSeen.After(before.LastSeen) {
		t.Error("heartbeat should refresh last seen")
	}
}

func TestMalformedAndUnknownMessages(t *testing.T) {
	f := setupRelay(t)
	client := f.connect(t, "user-1", models.PermissionEdit)
	other := f.connect(t, "user-2", models.PermissionEdit)
	drain(client)

	f.relay.handleInbound(client, []byte(`not json at all`))
	expectError(t, client, CodeMalformedMessage)

	f.relay.handleInbound(client, []byte(`{"type":"teleport"}`))
	expectError(t, client, CodeUnknownType)

	f.relay.handleInbound(client, []byte(`{"type":"composition_change","data":{"payload":{"x":1}}}`))
	expectError(t, client, CodeMalformedMessage)

	// None of it leaks to the room.
	assertNoMessage(t, other)
}

func TestDisconnectMarksOfflineAndNotifiesRoom(t *testing.T) {
	f := setupRelay(t)
	leaver := f.connect(t, "user-1", models.PermissionEdit)
	other := f.connect(t, "user-2", models.PermissionEdit)
	drain(leaver)

	f.relay.handleDisconnect(leaver)
	f.hub.Unregister <- leaver
	time.Sleep(20 * time.Millisecond)

	env := expectMessage(t, other, TypeUserLeft)
	var left userLeft
	if err := json.Unmarshal(env.Data, &left); err != nil {
		t.Fatalf("unmarshal user_left: %v", err)
	}
	if left.User.ID != "user-1" {
		t.Errorf("wrong user in user_left: %s", left.User.ID)
	}

	p, err := f.store.GetParticipant(context.Background(), f.session.ID, "user-1")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if p.Online {
		t.Error("participant should be offline after disconnect")
	}

	if got := len(f.events.byType(models.EventUserLeft)); got != 1 {
		t.Errorf("expected 1 user_left audit event, got %d", got)
	}
}

func TestPermissionFixedAtConnect(t *testing.T) {
	f := setupRelay(t)
	editor := f.connect(t, "user-1", models.PermissionEdit)

	// A level change while connected does not affect the live binding.
	ctx := context.Background()
	_, _, err := f.store.UpsertParticipant(ctx, f.session.ID,
		models.PublicUser{ID: "user-1", Username: "u-user-1"}, models.PermissionView)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if editor.level != models.PermissionEdit {
		t.Error("live binding must keep the level from connect time")
	}
}
