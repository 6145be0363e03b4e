// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hierarchy/pkg/logging"
	"github.com/AleutianAI/hierarchy/pkg/telemetry"
	"github.com/AleutianAI/hierarchy/services/hierarchy"
)

// runServe starts the hierarchy service and blocks until SIGINT or
// SIGTERM.
func runServe(cmd *cobra.Command, args []string) {
	cfg := hierarchy.DefaultConfig()
	if configPath != "" {
		loaded, err := hierarchy.Load(configPath)
		if err != nil {
			log.Fatalf("Error loading config %s: %v", configPath, err)
		}
		cfg = loaded
	} else {
		// Defaults have no feed path; keep the zero-config path usable.
		cfg.Feed.InMemory = true
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: "hierarchy",
		JSON:    cfg.Log.JSON,
		Quiet:   cfg.Log.Quiet,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.String("error", err.Error()))
	} else {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	svc, err := hierarchy.NewService(cfg, logger.Slog())
	if err != nil {
		logger.Error("Failed to create service", slog.String("error", err.Error()))
		return
	}
	defer svc.Close()

	logger.Info("Starting hierarchy service",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("in_memory", cfg.Feed.InMemory),
	)

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service exited with error", slog.String("error", err.Error()))
		return
	}
	logger.Info("Hierarchy service stopped")
}
