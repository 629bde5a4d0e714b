// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

// Package audit moves session activity records from the relay hot path to
// durable storage through an in-process Watermill pub/sub. The relay
// publishes fire-and-forget; a supervised consumer drains the topic and
// writes events to the store. A slow disk or a storage error delays the
// audit trail, never a broadcast.
package audit

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/metrics"
	"github.com/cadenzalab/cadenza/internal/models"
	"github.com/cadenzalab/cadenza/internal/store"
)

// TopicSessionEvents is the single audit topic.
const TopicSessionEvents = "session.events"

// Pipeline is the audit event bus: the relay publishes into it, the
// consumer side persists.
type Pipeline struct {
	pubsub *gochannel.GoChannel
	store  *store.Store
}

// NewPipeline creates the pipeline over an in-process Watermill channel.
// The buffer absorbs bursts; when it overflows, publishes drop rather than
// block the relay.
func NewPipeline(st *store.Store, bufferSize int64) *Pipeline {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            bufferSize,
			BlockPublishUntilSubscriberAck: false,
		},
		NewLoggerAdapter(),
	)
	return &Pipeline{pubsub: pubsub, store: st}
}

// Publish enqueues one event. Implements the relay's EventPublisher;
// failures are logged and swallowed.
func (p *Pipeline) Publish(event *models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Warn().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal audit event")
		return
	}

	msg := message.NewMessage(event.ID, data)
	msg.Metadata.Set("session_id", event.SessionID)
	msg.Metadata.Set("event_type", string(event.Type))

	if err := p.pubsub.Publish(TopicSessionEvents, msg); err != nil {
		logging.Warn().Err(err).Str("event_type", string(event.Type)).Msg("failed to publish audit event")
		return
	}
	metrics.AuditEventsPublished.WithLabelValues(string(event.Type)).Inc()
}

// Run subscribes to the audit topic and persists events until the context
// is canceled. Designed for suture supervision; returns the context error
// on shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	messages, err := p.pubsub.Subscribe(ctx, TopicSessionEvents)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicSessionEvents, err)
	}

	logging.Info().Str("topic", TopicSessionEvents).Msg("audit consumer started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("component", "audit-consumer").Msg("audit consumer stopped")
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			p.handleMessage(ctx, msg)
		}
	}
}

// handleMessage persists one event. Malformed messages are acked and
// dropped; storage failures are also acked, since the in-process channel
// has no redelivery and retrying forever would stall the topic.
func (p *Pipeline) handleMessage(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var event models.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		metrics.AuditEventsFailed.Inc()
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed audit event")
		return
	}

	event.Processed = true
	if err := p.store.AppendEvent(ctx, &event); err != nil {
		metrics.AuditEventsFailed.Inc()
		logging.Error().Err(err).
			Str("session_id", event.SessionID).
			Str("event_type", string(event.Type)).
			Msg("failed to persist audit event")
		return
	}

	metrics.AuditEventsProcessed.Inc()
	logging.Debug().
		Str("session_id", event.SessionID).
		Str("event_type", string(event.Type)).
		Msg("audit event persisted")
}

// Close shuts the underlying pub/sub down, closing subscriber channels.
func (p *Pipeline) Close() error {
	return p.pubsub.Close()
}
