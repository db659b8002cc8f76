// Copyright 2026 The Fluxion Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads Fluxion's process-wide, init-time-only settings
// (spec.md §6) from a TOML file and environment overrides, modeled on
// the teacher's functional-options + Validate()-interface config
// approach, simplified down to the fixed shape Fluxion actually needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// WorkerConfig is one entry of a fixed (non-"all") worker strategy.
type WorkerConfig struct {
	ID               string   `toml:"id"`
	DB               []string `toml:"db"`
	MaxInflight      int      `toml:"max_inflight"`
	RequestTimeoutMs int      `toml:"request_timeout_ms"`
}

// Config is Fluxion's validated, process-wide configuration
// (spec.md §6's Configuration entity).
type Config struct {
	Dir             string   `toml:"dir"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	MaxRequestBytes int64    `toml:"max_request_bytes"`
	Databases       []string `toml:"databases"`

	// WorkerStrategyAll selects the single synthesized fallback-all-db
	// worker (spec.md §6's workerStrategy: "all"). When false, Workers
	// describes a fixed strategy and the fallback is synthesized only if
	// needed to cover the declared databases.
	WorkerStrategyAll bool           `toml:"worker_strategy_all"`
	Workers           []WorkerConfig `toml:"workers"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "json" | "text"
}

// Validate implements the teacher's Validator interface (config/config.go),
// rejecting an empty dir, maxRequestBytes <= 0, a port outside
// (0, 65535], and (for a fixed worker strategy) an empty or duplicate
// worker id.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("config: dir is required")
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("config: maxRequestBytes must be > 0, got %d", c.MaxRequestBytes)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port must be in (0, 65535], got %d", c.Port)
	}
	if !c.WorkerStrategyAll {
		seen := make(map[string]struct{}, len(c.Workers))
		for _, w := range c.Workers {
			if w.ID == "" {
				return fmt.Errorf("config: worker id is required")
			}
			if _, dup := seen[w.ID]; dup {
				return fmt.Errorf("config: duplicate worker id %q", w.ID)
			}
			seen[w.ID] = struct{}{}
		}
	}
	return nil
}

func defaults() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		MaxRequestBytes:   10 << 20,
		WorkerStrategyAll: true,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads a TOML file at path (if non-empty), applies "FLUXION_"
// prefixed environment variable overrides, validates the result, and
// returns it. A missing path is not an error: defaults plus environment
// apply on their own, matching a purely-env-driven deployment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads configuration or panics, mirroring the teacher's
// MustNew/MustLoad convenience pair. cmd/fluxiond calls Load instead.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: failed to load: %v", err))
	}
	return cfg
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("FLUXION_DIR"); v != "" {
		c.Dir = v
	}
	if v := os.Getenv("FLUXION_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("FLUXION_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("FLUXION_MAX_REQUEST_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxRequestBytes = n
		}
	}
	if v := os.Getenv("FLUXION_DATABASES"); v != "" {
		c.Databases = splitAndTrim(v, ",")
	}
	if v := os.Getenv("FLUXION_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FLUXION_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RequestTimeout converts a worker's millisecond field to a Duration,
// falling back to zero (caller applies its own default) when unset.
func (w WorkerConfig) RequestTimeout() time.Duration {
	if w.RequestTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(w.RequestTimeoutMs) * time.Millisecond
}

// DatabaseSet returns declared database names as a set, for callers that
// need set operations (selector.NewPool, engine.Config.DeclaredDatabases).
func (c *Config) DatabaseSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Databases))
	for _, d := range c.Databases {
		set[d] = struct{}{}
	}
	return set
}

// DBSet converts a worker's declared db list to a set.
func (w WorkerConfig) DBSet() map[string]struct{} {
	set := make(map[string]struct{}, len(w.DB))
	for _, d := range w.DB {
		set[d] = struct{}{}
	}
	return set
}
