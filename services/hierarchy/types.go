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
	"strconv"
	"strings"

	"github.com/AleutianAI/hierarchy/services/hierarchy/tree"
)

// ServiceVersion is the hierarchy service version.
const ServiceVersion = "0.1.0"

// EventInput is one relation event in an ingest request.
//
// Entities are addressed as "index@generation" or as a plain integer
// (generation zero). Sequence numbers are assigned by the feed log;
// clients never supply them.
type EventInput struct {
	// Kind is "inserted", "modified", or "removed".
	Kind string `json:"kind" binding:"required,oneof=inserted modified removed"`

	// Entity is the subject of the event.
	Entity string `json:"entity" binding:"required"`

	// Parent is the declared parent. Required for inserted and modified.
	Parent string `json:"parent,omitempty"`

	// OldParent is the previous parent for modified events.
	OldParent string `json:"old_parent,omitempty"`
}

// IngestRequest is the body of POST /v1/hierarchy/events.
type IngestRequest struct {
	Events []EventInput `json:"events" binding:"required,min=1,dive"`
}

// IngestResponse reports the outcome of an ingest.
type IngestResponse struct {
	// Accepted is the number of events appended.
	Accepted int `json:"accepted"`

	// LastSeq is the sequence number assigned to the final event.
	LastSeq uint64 `json:"last_seq"`
}

// EntityResponse describes one entity's place in the hierarchy.
type EntityResponse struct {
	Entity   string   `json:"entity"`
	Admitted bool     `json:"admitted"`
	Member   bool     `json:"member"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children"`
}

// OrderResponse is the full traversal order, parents before children.
type OrderResponse struct {
	Entities []string `json:"entities"`
	Count    int      `json:"count"`
}

// KillResponse reports the outcome of a kill request.
type KillResponse struct {
	Entity      string `json:"entity"`
	AlreadyDead bool   `json:"already_dead"`
}

// PassResponse summarizes one maintenance pass.
type PassResponse struct {
	Events     int    `json:"events"`
	Admitted   int    `json:"admitted"`
	Reparented int    `json:"reparented"`
	Rejected   int    `json:"rejected"`
	Revoked    int    `json:"revoked"`
	Faults     int    `json:"faults"`
	Published  int    `json:"published"`
	OrderLen   int    `json:"order_len"`
	Cursor     uint64 `json:"cursor"`
}

// StatsResponse is the body of GET /v1/hierarchy/stats.
type StatsResponse struct {
	Members     int          `json:"members"`
	Admitted    int          `json:"admitted"`
	Dead        int          `json:"dead"`
	Passes      uint64       `json:"passes"`
	LastPass    PassResponse `json:"last_pass"`
	FeedLastSeq uint64       `json:"feed_last_seq"`
	FeedTrimmed uint64       `json:"feed_trimmed_through"`
	FeedCorrupt int64        `json:"feed_corrupted"`
}

// ChangeMessage is one net-effect change streamed to websocket clients.
type ChangeMessage struct {
	// Kind is "added", "modified", or "removed".
	Kind string `json:"kind"`

	Entity string `json:"entity"`
	Parent string `json:"parent,omitempty"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// newPassResponse converts tree.PassStats to its wire form.
func newPassResponse(s tree.PassStats) PassResponse {
	return PassResponse{
		Events:     s.Events,
		Admitted:   s.Admitted,
		Reparented: s.Reparented,
		Rejected:   s.Rejected,
		Revoked:    s.Revoked,
		Faults:     s.Faults,
		Published:  s.Published,
		OrderLen:   s.OrderLen,
		Cursor:     s.Cursor,
	}
}

// parseEntity parses "index@generation" or a plain integer (generation
// zero) into a tree.Entity.
func parseEntity(s string) (tree.Entity, error) {
	if idx, gen, ok := strings.Cut(s, "@"); ok {
		i, err := strconv.ParseUint(idx, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid entity index %q: %w", idx, err)
		}
		g, err := strconv.ParseUint(gen, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid entity generation %q: %w", gen, err)
		}
		return tree.NewEntity(uint32(i), uint32(g)), nil
	}
	i, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid entity %q: %w", s, err)
	}
	return tree.Entity(i), nil
}

// parseEvent converts one wire event into its internal form.
func parseEvent(in EventInput) (tree.RelationEvent, error) {
	var ev tree.RelationEvent

	switch in.Kind {
	case "inserted":
		ev.Kind = tree.RelationInserted
	case "modified":
		ev.Kind = tree.RelationModified
	case "removed":
		ev.Kind = tree.RelationRemoved
	default:
		return ev, fmt.Errorf("invalid event kind %q", in.Kind)
	}

	entity, err := parseEntity(in.Entity)
	if err != nil {
		return ev, err
	}
	ev.Entity = entity

	if in.Kind != "removed" {
		if in.Parent == "" {
			return ev, fmt.Errorf("%s event for %s requires a parent", in.Kind, in.Entity)
		}
		parent, err := parseEntity(in.Parent)
		if err != nil {
			return ev, err
		}
		ev.Parent = parent
	}

	if in.OldParent != "" {
		old, err := parseEntity(in.OldParent)
		if err != nil {
			return ev, err
		}
		ev.OldParent = old
	}

	return ev, nil
}
