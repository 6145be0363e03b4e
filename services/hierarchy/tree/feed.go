// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"context"
	"sync"
)

// RelationKind identifies the kind of a relation event.
type RelationKind int

const (
	// RelationInserted indicates a parent edge was created for an entity
	// that previously had none.
	RelationInserted RelationKind = iota

	// RelationModified indicates an existing parent edge was redirected.
	RelationModified

	// RelationRemoved indicates the entity's parent edge was removed and
	// the entity left the relation entirely.
	RelationRemoved
)

// String returns the string representation of the RelationKind.
func (k RelationKind) String() string {
	switch k {
	case RelationInserted:
		return "inserted"
	case RelationModified:
		return "modified"
	case RelationRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// RelationEvent is a single change to the external parent relation.
//
// Events carry a strictly increasing sequence number assigned by the
// feed. Parent is the proposed parent for Inserted and Modified events
// and is ignored for Removed. OldParent is informational on Modified
// events; the hierarchy derives the authoritative prior parent from its
// own state.
type RelationEvent struct {
	// Seq is the feed-assigned sequence number, strictly increasing.
	Seq uint64 `json:"seq"`

	// Kind is the event kind.
	Kind RelationKind `json:"kind"`

	// Entity is the child side of the relation edge.
	Entity Entity `json:"entity"`

	// Parent is the proposed parent (Inserted, Modified).
	Parent Entity `json:"parent,omitempty"`

	// OldParent is the previous parent as reported by the producer
	// (Modified only, informational).
	OldParent Entity `json:"old_parent,omitempty"`
}

// FeedReader presents the ordered relation-event log the hierarchy
// consumes.
//
// Implementations must return events in sequence-number order with every
// returned Seq strictly greater than cursor. The hierarchy trusts the
// feed to be complete and ordered; gap detection is the feed's problem.
type FeedReader interface {
	// ReadSince returns all events with Seq > cursor, in order.
	//
	// Inputs:
	//   - ctx: Context for cancellation of the read itself.
	//   - cursor: Exclusive lower bound; pass 0 for the full log.
	//
	// Outputs:
	//   - []RelationEvent: Events in sequence order. Empty if none.
	//   - error: Non-nil if the feed could not be read.
	ReadSince(ctx context.Context, cursor uint64) ([]RelationEvent, error)
}

// SliceFeed is an in-memory FeedReader backed by a slice.
//
// Hosts that track relation changes in process append events directly;
// sequence numbers are assigned on append. Also the feed used throughout
// the package tests.
//
// Thread Safety: safe for concurrent use.
type SliceFeed struct {
	mu      sync.RWMutex
	events  []RelationEvent
	nextSeq uint64
}

// NewSliceFeed creates an empty in-memory feed.
func NewSliceFeed() *SliceFeed {
	return &SliceFeed{nextSeq: 1}
}

// Append records an event, assigning the next sequence number.
//
// The Seq field of the input is ignored. Returns the assigned sequence
// number.
func (f *SliceFeed) Append(ev RelationEvent) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	ev.Seq = f.nextSeq
	f.nextSeq++
	f.events = append(f.events, ev)
	return ev.Seq
}

// Insert appends an Inserted event for entity with the given parent.
func (f *SliceFeed) Insert(entity, parent Entity) uint64 {
	return f.Append(RelationEvent{Kind: RelationInserted, Entity: entity, Parent: parent})
}

// Modify appends a Modified event redirecting entity's edge to parent.
func (f *SliceFeed) Modify(entity, oldParent, parent Entity) uint64 {
	return f.Append(RelationEvent{
		Kind:      RelationModified,
		Entity:    entity,
		Parent:    parent,
		OldParent: oldParent,
	})
}

// Remove appends a Removed event for entity.
func (f *SliceFeed) Remove(entity Entity) uint64 {
	return f.Append(RelationEvent{Kind: RelationRemoved, Entity: entity})
}

// ReadSince returns all events with Seq > cursor.
func (f *SliceFeed) ReadSince(_ context.Context, cursor uint64) ([]RelationEvent, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// Seq numbers are dense (assigned on append), so the first event
	// past the cursor can be located by offset.
	if len(f.events) == 0 {
		return nil, nil
	}
	first := f.events[0].Seq
	if cursor < first {
		out := make([]RelationEvent, len(f.events))
		copy(out, f.events)
		return out, nil
	}
	start := int(cursor - first + 1)
	if start >= len(f.events) {
		return nil, nil
	}
	out := make([]RelationEvent, len(f.events)-start)
	copy(out, f.events[start:])
	return out, nil
}

// Len returns the number of events currently held.
func (f *SliceFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.events)
}

var _ FeedReader = (*SliceFeed)(nil)
