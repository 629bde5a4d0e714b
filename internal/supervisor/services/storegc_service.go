// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package services

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cadenzalab/cadenza/internal/logging"
)

// GarbageCollector matches *store.Store's value-log GC trigger.
type GarbageCollector interface {
	RunGC() error
}

// StoreGCService runs Badger value-log garbage collection on a fixed
// interval. Badger never reclaims value-log space on its own; without
// this ticker the store only grows.
type StoreGCService struct {
	store    GarbageCollector
	interval time.Duration
	name     string
}

// NewStoreGCService wraps the store's GC for supervision.
func NewStoreGCService(store GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		name:     "store-gc",
	}
}

// Serve implements suture.Service. ErrNoRewrite means there was nothing
// to collect and is not a failure.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunGC(); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("store gc failed")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (s *StoreGCService) String() string {
	return s.name
}
