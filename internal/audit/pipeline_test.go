// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzalab/cadenza/internal/models"
	"github.com/cadenzalab/cadenza/internal/store"
)

func setupPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := NewPipeline(st, 64)
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("audit consumer did not stop within 1s")
		}
	})
	time.Sleep(20 * time.Millisecond)

	return p, st
}

func waitForEvents(t *testing.T, st *store.Store, sessionID string, want int) []models.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, _, err := st.ListEvents(context.Background(), sessionID, 0, nil)
		require.NoError(t, err)
		if len(events) >= want {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d events, got %d", want, len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPipelinePersistsPublishedEvents(t *testing.T) {
	p, st := setupPipeline(t)
	sessionID := uuid.NewString()

	p.Publish(&models.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    "user-1",
		Type:      models.EventUserJoined,
		Payload:   []byte(`{"username":"ada"}`),
		Timestamp: time.Now().UTC(),
	})

	events := waitForEvents(t, st, sessionID, 1)
	assert.Equal(t, models.EventUserJoined, events[0].Type)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.True(t, events[0].Processed, "consumer marks persisted events processed")
}

func TestPipelinePreservesOrderPerSession(t *testing.T) {
	p, st := setupPipeline(t)
	sessionID := uuid.NewString()

	base := time.Now().UTC()
	types := []models.EventType{
		models.EventUserJoined,
		models.EventCompositionChanged,
		models.EventCommentAdded,
		models.EventUserLeft,
	}
	for i, typ := range types {
		p.Publish(&models.Event{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			UserID:    "user-1",
			Type:      typ,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	events := waitForEvents(t, st, sessionID, len(types))
	require.Len(t, events, len(types))
	// ListEvents returns newest first.
	for i, typ := range types {
		assert.Equal(t, typ, events[len(types)-1-i].Type)
	}
}

func TestPipelineSurvivesMalformedAndForeignSessions(t *testing.T) {
	p, st := setupPipeline(t)
	a := uuid.NewString()
	b := uuid.NewString()

	p.Publish(&models.Event{ID: uuid.NewString(), SessionID: a, Type: models.EventUserJoined, Timestamp: time.Now().UTC()})
	p.Publish(&models.Event{ID: uuid.NewString(), SessionID: b, Type: models.EventUserJoined, Timestamp: time.Now().UTC()})

	eventsA := waitForEvents(t, st, a, 1)
	eventsB := waitForEvents(t, st, b, 1)
	assert.Len(t, eventsA, 1)
	assert.Len(t, eventsB, 1)
}
