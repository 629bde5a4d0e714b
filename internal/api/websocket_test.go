// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzalab/cadenza/internal/collab"
	"github.com/cadenzalab/cadenza/internal/models"
)

// dialWS opens a WebSocket connection into a session, authenticating via
// the token query parameter the way browser clients do.
func (f *apiFixture) dialWS(sessionID, token string) *websocket.Conn {
	f.t.Helper()

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") +
		"/api/v1/sessions/" + sessionID + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(f.t, err)
	if resp != nil {
		resp.Body.Close()
	}
	f.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEnvelope reads one frame with a deadline so a missing message fails
// the test instead of hanging it.
func readEnvelope(t *testing.T, conn *websocket.Conn) collab.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env collab.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestWebSocketJoinHandshake(t *testing.T) {
	f := newTestAPI(t)
	token, userID := f.register("pianist1")
	session := f.createSession(token, "Live Jam")

	conn := f.dialWS(session.ID, token)

	established := readEnvelope(t, conn)
	require.Equal(t, collab.TypeConnectionEstablished, established.Type)

	var welcome struct {
		SessionID  string                 `json:"session_id"`
		User       models.PublicUser      `json:"user"`
		Permission models.PermissionLevel `json:"permission_level"`
	}
	require.NoError(t, json.Unmarshal(established.Data, &welcome))
	assert.Equal(t, session.ID, welcome.SessionID)
	assert.Equal(t, userID, welcome.User.ID)
	// Creator joins as admin.
	assert.Equal(t, models.PermissionAdmin, welcome.Permission)

	state := readEnvelope(t, conn)
	require.Equal(t, collab.TypeSessionState, state.Type)

	var snapshot struct {
		Session      models.SessionSummary `json:"session"`
		Participants []models.Participant  `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(state.Data, &snapshot))
	assert.Equal(t, session.ID, snapshot.Session.ID)
	require.Len(t, snapshot.Participants, 1)

	joined := readEnvelope(t, conn)
	assert.Equal(t, collab.TypeUserJoined, joined.Type)
}

func TestWebSocketChangeRoundTrip(t *testing.T) {
	f := newTestAPI(t)
	token, _ := f.register("guitarist")
	session := f.createSession(token, "Riff Workshop")

	conn := f.dialWS(session.ID, token)
	for i := 0; i < 3; i++ {
		readEnvelope(t, conn) // handshake frames
	}

	submission, err := json.Marshal(collab.ChangeSubmission{
		ChangeType: models.ChangeNoteAdd,
		Payload:    json.RawMessage(`{"pitch":"E2","duration":"8th"}`),
	})
	require.NoError(t, err)
	frame, err := json.Marshal(collab.Envelope{Type: collab.TypeCompositionChange, Data: submission})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	broadcast := readEnvelope(t, conn)
	require.Equal(t, collab.TypeCompositionChange, broadcast.Type)

	var got struct {
		Change  *models.Change `json:"change"`
		Version uint64         `json:"version"`
	}
	require.NoError(t, json.Unmarshal(broadcast.Data, &got))
	require.NotNil(t, got.Change)
	assert.Equal(t, models.ChangeNoteAdd, got.Change.ChangeType)
	// Session starts at version 1; the first accepted change moves it to 2.
	assert.EqualValues(t, 2, got.Version)
}

func TestWebSocketRejectsInactiveSession(t *testing.T) {
	f := newTestAPI(t)
	token, _ := f.register("drummer1")
	session := f.createSession(token, "Paused Session")

	status, _ := f.request(http.MethodPost, "/api/v1/sessions/"+session.ID+"/status", token, models.SessionStatusRequest{Status: models.StatusPaused})
	require.Equal(t, http.StatusOK, status)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") +
		"/api/v1/sessions/" + session.ID + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Nil(t, conn)
}

func TestWebSocketRequiresToken(t *testing.T) {
	f := newTestAPI(t)
	token, _ := f.register("bassist1")
	session := f.createSession(token, "Locked Door")

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") +
		"/api/v1/sessions/" + session.ID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Nil(t, conn)
}
