// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package services

import (
	"context"
)

// ContextRunner matches components whose run loop already follows the
// suture pattern: block until the context is canceled, then return.
// Satisfied by *collab.Hub and *audit.Pipeline.
type ContextRunner interface {
	RunWithContext(ctx context.Context) error
}

// HubService supervises the collaboration hub's dispatch loop.
type HubService struct {
	hub  ContextRunner
	name string
}

// NewHubService wraps the broadcast hub for supervision.
func NewHubService(hub ContextRunner) *HubService {
	return &HubService{hub: hub, name: "collab-hub"}
}

// Serve implements suture.Service by delegating to the hub's own loop.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String identifies the service in supervisor logs.
func (s *HubService) String() string {
	return s.name
}
