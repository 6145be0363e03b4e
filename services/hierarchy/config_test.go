// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package hierarchy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Feed.InMemory = true
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults with in-memory feed", mutate: func(c *Config) {}},
		{name: "defaults with feed path", mutate: func(c *Config) {
			c.Feed.InMemory = false
			c.Feed.Path = "/var/lib/hierarchy/feed"
		}},
		{name: "missing feed path", mutate: func(c *Config) {
			c.Feed.InMemory = false
		}, wantErr: true},
		{name: "zero port", mutate: func(c *Config) {
			c.Server.Port = 0
		}, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) {
			c.Server.Port = 70000
		}, wantErr: true},
		{name: "zero maintain interval", mutate: func(c *Config) {
			c.Maintain.Interval = 0
		}, wantErr: true},
		{name: "negative pass rate", mutate: func(c *Config) {
			c.Maintain.MaxPassesPerSecond = -1
		}, wantErr: true},
		{name: "zero event buffer", mutate: func(c *Config) {
			c.Maintain.EventBuffer = 0
		}, wantErr: true},
		{name: "unknown log level", mutate: func(c *Config) {
			c.Log.Level = "verbose"
		}, wantErr: true},
		{name: "empty log level allowed", mutate: func(c *Config) {
			c.Log.Level = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9001
feed:
  in_memory: true
maintain:
  burst: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Maintain.Burst)

	// Untouched fields keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 250*time.Millisecond, cfg.Maintain.Interval)
	assert.Equal(t, 4096, cfg.Maintain.EventBuffer)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid merged config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}
