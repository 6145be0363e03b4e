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
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hierarchy/pkg/logging"
	"github.com/AleutianAI/hierarchy/services/hierarchy/feedlog"
)

// runDump opens a feed log directly and prints its events. The server
// must not be running against the same directory; Badger holds an
// exclusive lock.
func runDump(cmd *cobra.Command, args []string) {
	path := feedPath
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		log.Fatal("Provide a feed log path as an argument or with --path")
	}

	cfg := feedlog.DefaultConfig()
	cfg.Path = path
	cfg.SkipCorrupted = true
	cfg.Logger = logging.Default().Slog()

	flog, err := feedlog.Open(cfg)
	if err != nil {
		log.Fatalf("Error opening feed log at %s: %v", path, err)
	}
	defer flog.Close()

	events, err := flog.ReadSince(context.Background(), fromSeq)
	if err != nil {
		log.Fatalf("Error reading feed log: %v", err)
	}

	for _, ev := range events {
		switch ev.Kind.String() {
		case "removed":
			fmt.Printf("%6d  %-8s %s\n", ev.Seq, ev.Kind, ev.Entity)
		default:
			fmt.Printf("%6d  %-8s %s -> %s\n", ev.Seq, ev.Kind, ev.Entity, ev.Parent)
		}
	}

	stats := flog.Stats()
	fmt.Printf("events: %d  last_seq: %d  truncated_through: %d\n",
		len(events), stats.LastSeq, stats.TruncatedThrough)
}
