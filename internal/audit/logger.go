// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package audit

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/cadenzalab/cadenza/internal/logging"
)

// zerologAdapter bridges Watermill's logging interface onto the
// application's zerolog setup, so pipeline logs carry the same format and
// level filtering as everything else.
type zerologAdapter struct {
	fields watermill.LogFields
}

// NewLoggerAdapter returns a watermill.LoggerAdapter backed by the global
// zerolog logger.
func NewLoggerAdapter() watermill.LoggerAdapter {
	return &zerologAdapter{}
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.emit(logging.Error().Err(err), msg, fields)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.emit(logging.Info(), msg, fields)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.emit(logging.Debug(), msg, fields)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.emit(logging.Debug(), msg, fields)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(a.fields)+len(fields))
	for k, v := range a.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &zerologAdapter{fields: merged}
}

func (a *zerologAdapter) emit(event *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range a.fields {
		event = event.Interface(k, v)
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
