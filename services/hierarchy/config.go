// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hierarchy

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// configValidate is the shared validator instance for config structs.
var configValidate = validator.New()

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Host is the listen address. Default: "0.0.0.0".
	Host string `yaml:"host"`

	// Port is the listen port. Default: 8085.
	Port int `yaml:"port" validate:"gt=0,lte=65535"`

	// ReadTimeout bounds request reads. Default: 15s.
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout bounds response writes. Zero disables the timeout;
	// the default is zero because the websocket stream endpoint holds
	// its connection open.
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

// FeedConfig configures the durable feed log and the optional file
// ingest path.
type FeedConfig struct {
	// Path is the BadgerDB directory for the feed log.
	// Required unless InMemory is true.
	Path string `yaml:"path"`

	// InMemory keeps the feed log in memory (testing only; state is
	// lost on shutdown).
	InMemory bool `yaml:"in_memory"`

	// SyncWrites enables synchronous feed log writes. Default: true.
	SyncWrites bool `yaml:"sync_writes"`

	// TailPath, when set, enables the JSONL file tailer as a second
	// ingest path alongside the HTTP API.
	TailPath string `yaml:"tail_path"`

	// TailFromStart makes the tailer read the whole existing file on
	// startup instead of only new lines.
	TailFromStart bool `yaml:"tail_from_start"`
}

// MaintainConfig configures the maintenance scheduler.
type MaintainConfig struct {
	// Interval is the scheduling tick for maintenance passes.
	// Default: 250ms.
	Interval time.Duration `yaml:"interval" validate:"gt=0"`

	// MaxPassesPerSecond caps the pass rate across the ticker and the
	// on-demand trigger endpoint. Default: 20.
	MaxPassesPerSecond float64 `yaml:"max_passes_per_second" validate:"gt=0"`

	// Burst is the rate limiter burst. Default: 5.
	Burst int `yaml:"burst" validate:"gt=0"`

	// EventBuffer is the retained net-effect event window for cursor
	// readers. Default: 4096.
	EventBuffer int `yaml:"event_buffer" validate:"gt=0"`
}

// LogConfig configures service logging.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	// Default: "info".
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// Dir enables JSON file logging to the given directory.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`

	// Quiet disables stderr output.
	Quiet bool `yaml:"quiet"`
}

// Config is the full service configuration.
//
// A zero value is not usable; start from DefaultConfig() or Load().
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Feed     FeedConfig     `yaml:"feed"`
	Maintain MaintainConfig `yaml:"maintain"`
	Log      LogConfig      `yaml:"log"`
}

// DefaultConfig returns production defaults. Feed.Path must still be
// set (or InMemory enabled) before the config validates.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8085,
			ReadTimeout: 15 * time.Second,
		},
		Feed: FeedConfig{
			SyncWrites: true,
		},
		Maintain: MaintainConfig{
			Interval:           250 * time.Millisecond,
			MaxPassesPerSecond: 20,
			Burst:              5,
			EventBuffer:        4096,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.Feed.InMemory && c.Feed.Path == "" {
		return fmt.Errorf("invalid config: feed.path is required unless feed.in_memory is set")
	}
	return nil
}

// Load reads a YAML config file over the defaults.
//
// Description:
//
//	Starts from DefaultConfig(), overlays the file's values, and
//	validates the result. Unset fields keep their defaults.
//
// Inputs:
//
//	path - Path to the YAML config file.
//
// Outputs:
//
//	Config - The effective configuration.
//	error - Non-nil if the file cannot be read or parsed, or the
//	        merged config is invalid.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
