// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package collab

import (
	"context"
	"sort"
	"sync"

	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down, for structured
// shutdown logs.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// broadcast is one fan-out request: a pre-marshaled payload for every
// client in a session room, optionally excluding the originator.
type broadcast struct {
	sessionID string
	exclude   uint64 // client id to skip; 0 means deliver to everyone
	msgType   string
	payload   []byte
}

// Hub maintains per-session rooms of connected clients and fans broadcasts
// out to them. All room mutation and delivery runs through one loop, so
// every client in a session observes broadcasts in the same order.
type Hub struct {
	rooms      map[string]map[*Client]bool
	broadcasts chan broadcast
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcasts: make(chan broadcast, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// RunWithContext runs the hub loop until the context is canceled. Designed
// for suture supervision: on cancellation all clients are closed and the
// context error is returned.
//
// Selection is priority-ordered so behavior is deterministic when several
// channels are ready at once: shutdown first, then client lifecycle, then
// broadcasts. Go's select picks randomly among ready cases; the staged
// non-blocking checks keep room membership consistent before any delivery.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown (non-blocking check)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle (non-blocking check)
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		// Priority 3: broadcasts, or block until anything arrives
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case b := <-h.broadcasts:
			h.broadcastToRoom(b)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.sessionID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[client.sessionID] = room
	}
	room[client] = true
	roomSize := len(room)
	roomCount := len(h.rooms)
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	metrics.WSSessionRooms.Set(float64(roomCount))
	logging.Info().
		Str("session_id", client.sessionID).
		Str("user_id", client.user.ID).
		Int("room_size", roomSize).
		Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.sessionID]
	if ok {
		if _, member := room[client]; member {
			delete(room, client)
			close(client.send)
			metrics.WSConnections.Dec()
		}
		if len(room) == 0 {
			delete(h.rooms, client.sessionID)
		}
	}
	roomCount := len(h.rooms)
	h.mu.Unlock()

	metrics.WSSessionRooms.Set(float64(roomCount))
	logging.Info().
		Str("session_id", client.sessionID).
		Str("user_id", client.user.ID).
		Msg("websocket client disconnected")
}

// Broadcast enqueues a pre-marshaled message for every client in a session
// room. exclude, when non-nil, names the originating client to skip. The
// enqueue is non-blocking: if the hub cannot keep up, the message is
// dropped with a warning rather than stalling the caller.
func (h *Hub) Broadcast(sessionID string, exclude *Client, msgType string, payload []byte) {
	b := broadcast{sessionID: sessionID, msgType: msgType, payload: payload}
	if exclude != nil {
		b.exclude = exclude.id
	}

	select {
	case h.broadcasts <- b:
		metrics.RecordBroadcast(msgType)
	default:
		logging.Warn().
			Str("session_id", sessionID).
			Str("message_type", msgType).
			Msg("broadcast channel full, dropping message")
	}
}

// broadcastToRoom delivers one broadcast to its room in client-ID order.
// Sorted iteration keeps delivery order reproducible; map iteration order
// would vary run to run.
func (h *Hub) broadcastToRoom(b broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[b.sessionID]
	if !ok {
		return
	}

	clients := make([]*Client, 0, len(room))
	for client := range room {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		if b.exclude != 0 && client.id == b.exclude {
			continue
		}
		select {
		case client.send <- b.payload:
			metrics.WSMessagesSent.Inc()
		default:
			// Send buffer full: the client is not draining. Dropping the
			// connection beats blocking the whole room; the client
			// reconnects and gets a fresh session_state.
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(room, client)
		metrics.WSConnections.Dec()
		metrics.WSSlowConsumerDrops.Inc()
		logging.Warn().
			Str("session_id", b.sessionID).
			Str("user_id", client.user.ID).
			Msg("dropping slow websocket consumer")
	}
	if len(room) == 0 {
		delete(h.rooms, b.sessionID)
		metrics.WSSessionRooms.Set(float64(len(h.rooms)))
	}
}

// logGracefulShutdown closes all clients and logs structured shutdown
// information. Context cancellation is expected behavior, not an error.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.ClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "collab-hub").
		Str("reason", string(shutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("collaboration hub stopped")
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// closeAllClients closes every connected client in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	var clients []*Client
	for _, room := range h.rooms {
		for client := range room {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
	}
	h.rooms = make(map[string]map[*Client]bool)
	metrics.WSConnections.Set(0)
	metrics.WSSessionRooms.Set(0)
}

// ClientCount returns the total number of connected clients across rooms.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, room := range h.rooms {
		total += len(room)
	}
	return total
}

// RoomSize returns the number of clients connected to one session.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}
