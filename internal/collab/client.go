// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package collab

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/metrics"
	"github.com/cadenzalab/cadenza/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024 // 256 KB, enough for a full composition snapshot in a change payload
)

// clientIDCounter assigns unique, monotonically increasing client IDs so
// broadcast fan-out can iterate rooms in a stable order.
var clientIDCounter atomic.Uint64

// Client is one WebSocket connection bound to a session and a user. The
// binding, including the permission level, is fixed at connect time; a
// permission change takes effect on the participant's next connection.
type Client struct {
	id    uint64
	hub   *Hub
	relay *Relay
	conn  *websocket.Conn
	send  chan []byte

	sessionID string
	user      models.PublicUser
	level     models.PermissionLevel

	// limiter throttles inbound messages per connection so one client
	// cannot starve the rest of the room.
	limiter *rate.Limiter
}

func newClient(hub *Hub, relay *Relay, conn *websocket.Conn, sessionID string, user models.PublicUser, level models.PermissionLevel, cfg Config) *Client {
	return &Client{
		id:        clientIDCounter.Add(1),
		hub:       hub,
		relay:     relay,
		conn:      conn,
		send:      make(chan []byte, cfg.SendBufferSize),
		sessionID: sessionID,
		user:      user,
		level:     level,
		limiter:   rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessageBurst),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// sendDirect queues a message for this client only. Non-blocking: a full
// buffer drops the message, and the write pump or hub will notice the
// stalled connection soon after.
func (c *Client) sendDirect(payload []byte) {
	select {
	case c.send <- payload:
		metrics.WSMessagesSent.Inc()
	default:
		logging.Warn().
			Str("session_id", c.sessionID).
			Str("user_id", c.user.ID).
			Msg("client send buffer full, dropping direct message")
	}
}

func (c *Client) sendError(code, message string) {
	metrics.RecordRejection(code)
	c.sendDirect(mustMarshalError(code, message))
}

// readPump reads inbound messages and hands them to the relay. One
// goroutine per connection; messages from one client are processed
// strictly in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.relay.handleDisconnect(c)
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Error().Err(err).Str("user_id", c.user.ID).Msg("unexpected websocket close error")
			}
			break
		}

		if !c.limiter.Allow() {
			c.sendError(CodeRateLimited, "too many messages, slow down")
			continue
		}

		c.relay.handleInbound(c, raw)
	}
}

// writePump drains the send channel to the connection and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Error().Err(err).Str("user_id", c.user.ID).Msg("failed to write websocket message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins the read and write pumps. Called once per connection after
// the join handshake completes.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
