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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	serverURL  string
	eventKind  string
	oldParent  string
	feedPath   string
	fromSeq    uint64

	rootCmd = &cobra.Command{
		Use:   "hierarchy",
		Short: "A cli to run and operate the hierarchy maintenance service",
		Long: `Hierarchy maintains a derived parent/child tree over a durable
stream of relation events: it validates edges, rebuilds the traversal
order, and publishes net-effect change events to subscribers.`,
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the hierarchy service",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Feed operations against a running server ---
	appendCmd = &cobra.Command{
		Use:   "append [entity] [parent]",
		Short: "Append one relation event to a running server's feed",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runAppend, // Defined in cmd_feed.go
	}
	orderCmd = &cobra.Command{
		Use:   "order",
		Short: "Print the current traversal order, parents before children",
		Run:   runOrder, // Defined in cmd_feed.go
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print tree, pass, and feed log statistics",
		Run:   runStats, // Defined in cmd_feed.go
	}
	killCmd = &cobra.Command{
		Use:   "kill [entity]",
		Short: "Mark an entity dead on a running server",
		Args:  cobra.ExactArgs(1),
		Run:   runKill, // Defined in cmd_feed.go
	}

	// --- Offline utilities ---
	dumpCmd = &cobra.Command{
		Use:   "dump [feed-log-path]",
		Short: "Dump a feed log's events without a running server",
		Args:  cobra.MaximumNArgs(1),
		Run:   runDump, // Defined in cmd_dump.go
	}
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML); defaults apply if omitted")

	appendCmd.Flags().StringVarP(&eventKind, "kind", "k", "inserted", "Event kind: inserted, modified, or removed")
	appendCmd.Flags().StringVar(&oldParent, "old-parent", "", "Previous parent for modified events")

	dumpCmd.Flags().StringVar(&feedPath, "path", "", "Feed log directory (alternative to positional arg)")
	dumpCmd.Flags().Uint64Var(&fromSeq, "from", 0, "Dump events with sequence numbers greater than this")

	for _, c := range []*cobra.Command{appendCmd, orderCmd, statsCmd, killCmd} {
		c.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8085", "Base URL of the hierarchy server")
	}

	rootCmd.AddCommand(serveCmd, appendCmd, orderCmd, statsCmd, killCmd, dumpCmd)
}
