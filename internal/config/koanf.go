// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cadenza/config.yaml",
	"/etc/cadenza/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CADENZA_CONFIG"

// envPrefix namespaces all configuration environment variables.
const envPrefix = "CADENZA_"

// envMappings maps environment variable suffixes (after CADENZA_) to koanf
// paths. Explicit over clever: underscores appear in both section names
// and key names, so a mechanical transform cannot tell SERVER_PORT from
// JWT_SECRET.
var envMappings = map[string]string{
	"host":                "server.host",
	"port":                "server.port",
	"server_timeout":      "server.timeout",
	"cors_origins":        "server.cors_origins",
	"environment":         "server.environment",
	"store_path":          "store.path",
	"store_in_memory":     "store.in_memory",
	"store_gc_interval":   "store.gc_interval",
	"jwt_secret":          "security.jwt_secret",
	"session_timeout":     "security.session_timeout",
	"rate_limit_reqs":     "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"rate_limit_disabled": "security.rate_limit_disabled",
	"send_buffer_size":    "collab.send_buffer_size",
	"messages_per_second": "collab.messages_per_second",
	"message_burst":       "collab.message_burst",
	"max_participants":    "collab.max_participants",
	"default_permission":  "collab.default_permission",
	"audit_buffer_size":   "audit.buffer_size",
	"log_level":           "logging.level",
	"log_format":          "logging.format",
	"log_caller":          "logging.caller",
}

// sliceConfigPaths lists paths parsed as comma-separated slices when set
// from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// Load builds the configuration from defaults, an optional YAML file, and
// CADENZA_* environment variables, in ascending precedence, then
// validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps CADENZA_* variable names to koanf paths. Unknown
// variables are dropped rather than guessed at.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if path, ok := envMappings[key]; ok {
		return path
	}
	return ""
}

// processSliceFields converts comma-separated env strings into slices for
// the known slice-valued paths.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}
