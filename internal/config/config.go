// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

// Package config loads server configuration from layered sources with
// clear precedence: environment variables over an optional YAML file over
// built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Security SecurityConfig `koanf:"security"`
	Collab   CollabConfig   `koanf:"collab"`
	Audit    AuditConfig    `koanf:"audit"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	CORSOrigins []string      `koanf:"cors_origins"`
	Environment string        `koanf:"environment"`
}

// StoreConfig configures the BadgerDB store.
type StoreConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// SecurityConfig configures authentication and rate limiting.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// CollabConfig configures the relay.
type CollabConfig struct {
	SendBufferSize    int     `koanf:"send_buffer_size"`
	MessagesPerSecond float64 `koanf:"messages_per_second"`
	MessageBurst      int     `koanf:"message_burst"`
	MaxParticipants   int     `koanf:"max_participants"`
	DefaultPermission string  `koanf:"default_permission"`
}

// AuditConfig configures the audit event pipeline.
type AuditConfig struct {
	BufferSize int64 `koanf:"buffer_size"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8470,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"*"},
			Environment: "development",
		},
		Store: StoreConfig{
			Path:       "/data/cadenza",
			InMemory:   false,
			GCInterval: 10 * time.Minute,
		},
		Security: SecurityConfig{
			JWTSecret:         "",
			SessionTimeout:    24 * time.Hour,
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Collab: CollabConfig{
			SendBufferSize:    256,
			MessagesPerSecond: 20,
			MessageBurst:      40,
			MaxParticipants:   10,
			DefaultPermission: "edit",
		},
		Audit: AuditConfig{
			BufferSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required (set CADENZA_JWT_SECRET)")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	if c.Collab.SendBufferSize < 1 {
		return fmt.Errorf("collab.send_buffer_size must be positive")
	}
	if c.Collab.MessagesPerSecond <= 0 {
		return fmt.Errorf("collab.messages_per_second must be positive")
	}
	if c.Collab.MaxParticipants < 1 {
		return fmt.Errorf("collab.max_participants must be positive")
	}
	switch c.Collab.DefaultPermission {
	case "view", "comment", "edit", "admin":
	default:
		return fmt.Errorf("collab.default_permission must be view, comment, edit, or admin")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}
