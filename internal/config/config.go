// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

// Package config loads the layered service configuration: compiled defaults,
// then an optional YAML file, then MARQUEE_-prefixed environment variables.
// Later layers win.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/marqueelabs/marquee/internal/enrich"
	"github.com/marqueelabs/marquee/internal/heropool"
	"github.com/marqueelabs/marquee/internal/logging"
	"github.com/marqueelabs/marquee/internal/source"
)

// envPrefix namespaces environment overrides. Double underscore separates
// nesting levels so single underscores survive inside key names, e.g.
// MARQUEE_SOURCE__BASE_URL sets source.base_url.
const envPrefix = "MARQUEE_"

// LogConfig is the file-facing logging section.
type LogConfig struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes caller file and line in log output.
	Caller bool `koanf:"caller"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	// Listen is the bind address, e.g. ":8787".
	Listen string `koanf:"listen"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimit is the per-client request cap per window. Zero disables
	// limiting.
	RateLimit int `koanf:"rate_limit"`

	// RateLimitWindow is the rate limit window.
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// StoreConfig controls the durable pool store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory disables on-disk persistence.
	InMemory bool `koanf:"in_memory"`
}

// Config is the complete service configuration.
type Config struct {
	Log        LogConfig       `koanf:"log"`
	Server     ServerConfig    `koanf:"server"`
	Store      StoreConfig     `koanf:"store"`
	Source     source.Config   `koanf:"source"`
	Enrichment enrich.Config   `koanf:"enrichment"`
	Hero       heropool.Policy `koanf:"hero"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Listen:          ":8787",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       120,
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			Path: "/var/lib/marquee/pools",
		},
		Source:     source.DefaultConfig(),
		Enrichment: enrich.DefaultConfig(),
		Hero:       *heropool.DefaultPolicy(),
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envTransform maps MARQUEE_SECTION__KEY_NAME to section.key_name.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks every section. The enrichment section is optional: when no
// base URL is configured the service runs with local artwork only.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must be set")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be non-negative, got %d", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("server.rate_limit_window must be positive, got %v", c.Server.RateLimitWindow)
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path must be set unless store.in_memory is true")
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if c.EnrichmentEnabled() {
		if err := c.Enrichment.Validate(); err != nil {
			return fmt.Errorf("enrichment: %w", err)
		}
	}
	if err := c.Hero.Validate(); err != nil {
		return fmt.Errorf("hero: %w", err)
	}
	return nil
}

// EnrichmentEnabled reports whether an enrichment upstream is configured.
func (c *Config) EnrichmentEnabled() bool {
	return c.Enrichment.BaseURL != ""
}

// LoggingConfig converts the file-facing section into the logging package's
// config.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	cfg.Caller = c.Log.Caller
	return cfg
}

// HeroPolicy returns a copy of the hero policy section.
func (c *Config) HeroPolicy() *heropool.Policy {
	return c.Hero.Clone()
}
