// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

// Package main is the entry point for the Cadenza server.
//
// Cadenza is a self-hosted real-time collaborative composition server.
// Musicians join a session over WebSocket, exchange composition edits,
// comments, playback state, and cursors, and everything durable lands in
// an embedded BadgerDB store with a serialized version counter per
// session.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML file, CADENZA_* env)
//  2. Logging: zerolog, JSON or console format
//  3. Store: BadgerDB at store.path, or in-memory for ephemeral runs
//  4. Realtime: broadcast hub, relay, audit pipeline
//  5. HTTP: chi router with REST API, WebSocket upgrade, /metrics
//  6. Supervision: every long-running component under a suture tree
//
// # Configuration
//
// Environment variables override the config file, which overrides
// defaults. The one required setting is the token signing secret:
//
//	export CADENZA_JWT_SECRET=$(openssl rand -base64 32)
//	./cadenza
//
// An explicit config file path can be set with CADENZA_CONFIG; otherwise
// config.yaml is searched in the working directory and /etc/cadenza.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP listener drains
// in-flight requests, WebSocket rooms are closed, the audit pipeline
// flushes, and the store is closed last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadenzalab/cadenza/internal/analysis"
	"github.com/cadenzalab/cadenza/internal/api"
	"github.com/cadenzalab/cadenza/internal/audit"
	"github.com/cadenzalab/cadenza/internal/auth"
	"github.com/cadenzalab/cadenza/internal/collab"
	"github.com/cadenzalab/cadenza/internal/config"
	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/store"
	"github.com/cadenzalab/cadenza/internal/supervisor"
	"github.com/cadenzalab/cadenza/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("in_memory", cfg.Store.InMemory).
		Str("environment", cfg.Server.Environment).
		Msg("Configuration loaded")

	var st *store.Store
	if cfg.Store.InMemory {
		logging.Warn().Msg("Store is in-memory; sessions will be lost on restart")
		st, err = store.OpenInMemory()
	} else {
		st, err = store.Open(cfg.Store.Path)
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	jwtManager, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.SessionTimeout)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}

	hub := collab.NewHub()
	pipeline := audit.NewPipeline(st, cfg.Audit.BufferSize)
	defer func() {
		if err := pipeline.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit pipeline")
		}
	}()

	relay := collab.NewRelay(hub, st, pipeline, collab.Config{
		SendBufferSize:    cfg.Collab.SendBufferSize,
		MessagesPerSecond: cfg.Collab.MessagesPerSecond,
		MessageBurst:      cfg.Collab.MessageBurst,
	})

	handler := api.NewHandler(st, hub, relay, jwtManager, analysis.NewRulesProvider(), cfg)
	router := api.Router(handler, auth.NewMiddleware(jwtManager))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddStorageService(services.NewStoreGCService(st, cfg.Store.GCInterval))
	tree.AddRealtimeService(services.NewHubService(hub))
	tree.AddRealtimeService(services.NewAuditService(pipeline))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting Cadenza")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Cadenza stopped gracefully")
}
