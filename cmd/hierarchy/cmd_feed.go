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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hierarchy/services/hierarchy"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// runAppend sends one relation event to the server's ingest endpoint.
func runAppend(cmd *cobra.Command, args []string) {
	in := hierarchy.EventInput{
		Kind:      eventKind,
		Entity:    args[0],
		OldParent: oldParent,
	}
	if len(args) > 1 {
		in.Parent = args[1]
	}
	if eventKind != "removed" && in.Parent == "" {
		log.Fatalf("Event kind %q requires a parent argument", eventKind)
	}

	var resp hierarchy.IngestResponse
	postJSON("/v1/hierarchy/events", hierarchy.IngestRequest{Events: []hierarchy.EventInput{in}}, &resp)
	fmt.Printf("Appended %s(%s) as seq %d\n", eventKind, args[0], resp.LastSeq)
}

// runOrder prints the traversal order one entity per line.
func runOrder(cmd *cobra.Command, args []string) {
	var resp hierarchy.OrderResponse
	getJSON("/v1/hierarchy/order", &resp)

	for _, e := range resp.Entities {
		fmt.Println(e)
	}
	fmt.Printf("total: %d\n", resp.Count)
}

// runStats pretty-prints the server's stats endpoint.
func runStats(cmd *cobra.Command, args []string) {
	var resp hierarchy.StatsResponse
	getJSON("/v1/hierarchy/stats", &resp)

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		log.Fatalf("Error formatting stats: %v", err)
	}
	fmt.Println(string(out))
}

// runKill marks an entity dead.
func runKill(cmd *cobra.Command, args []string) {
	req, err := http.NewRequest(http.MethodDelete, serverURL+"/v1/hierarchy/entities/"+args[0], nil)
	if err != nil {
		log.Fatalf("Error building request: %v", err)
	}

	var resp hierarchy.KillResponse
	doRequest(req, &resp)

	if resp.AlreadyDead {
		fmt.Printf("Entity %s was already dead\n", resp.Entity)
		return
	}
	fmt.Printf("Entity %s marked dead; next maintenance pass sweeps it\n", resp.Entity)
}

// getJSON fetches path from the configured server into out.
func getJSON(path string, out any) {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		log.Fatalf("Error building request: %v", err)
	}
	doRequest(req, out)
}

// postJSON posts body to path on the configured server, decoding into out.
func postJSON(path string, body, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("Error encoding request: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("Error building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	doRequest(req, out)
}

// doRequest executes req and decodes the JSON response into out,
// exiting with the server's error message on non-2xx status.
func doRequest(req *http.Request, out any) {
	resp, err := httpClient.Do(req)
	if err != nil {
		log.Fatalf("Error contacting server at %s: %v", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr hierarchy.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			log.Fatalf("Server error (%d, %s): %s", resp.StatusCode, apiErr.Code, apiErr.Error)
		}
		log.Fatalf("Server error (%d): %s", resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}
}
