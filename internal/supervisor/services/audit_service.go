// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package services

import (
	"context"
)

// AuditPipeline matches *audit.Pipeline's consumer loop.
type AuditPipeline interface {
	Run(ctx context.Context) error
}

// AuditService supervises the audit event consumer. If the consumer
// crashes it restarts and resubscribes; the publisher side is
// fire-and-forget and unaffected.
type AuditService struct {
	pipeline AuditPipeline
	name     string
}

// NewAuditService wraps the audit pipeline for supervision.
func NewAuditService(pipeline AuditPipeline) *AuditService {
	return &AuditService{pipeline: pipeline, name: "audit-pipeline"}
}

// Serve implements suture.Service.
func (s *AuditService) Serve(ctx context.Context) error {
	return s.pipeline.Run(ctx)
}

// String identifies the service in supervisor logs.
func (s *AuditService) String() string {
	return s.name
}
