// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tree maintains a derived hierarchy over externally-owned entities.
//
// The tree package consumes an ordered stream of parent-relation events
// (inserted/modified/removed) and maintains three projections over the
// admitted population: a parent map, per-entity child lists, and a total
// order in which every parent precedes all of its descendants.
//
// # Ownership Model
//
// Entities are opaque handles owned by an external identity system:
//   - The package never allocates or destroys entities
//   - Liveness is queried through the Liveness interface
//   - The hierarchy is a rebuildable projection, never the source of truth
//
// # Thread Safety
//
// Hierarchy follows a single-writer/multiple-reader discipline:
//   - Exactly one Maintain pass may run at a time (exclusive write)
//   - Between passes, any number of goroutines may query concurrently
//
// The discipline is enforced internally with a sync.RWMutex; callers do
// not need their own synchronization.
//
// # Failure Model
//
// Structurally invalid edges (self-parent, cycle, dead parent) are not
// errors. The offending edge is rejected, any prior admission of the
// entity is revoked, and the pass continues. The only errors surfaced by
// this package are host-level misuse (nil feed, overrun event reader)
// and failures propagated from the feed itself.
package tree

import "errors"

// Sentinel errors for hierarchy operations.
var (
	// ErrNilFeed is returned by Maintain when the feed reader is nil.
	ErrNilFeed = errors.New("feed reader must not be nil")

	// ErrReaderClosed is returned when draining a closed event reader.
	ErrReaderClosed = errors.New("event reader is closed")

	// ErrReaderOverrun is returned when an event reader fell so far behind
	// that the emitter trimmed events the reader had not yet observed.
	// The reader is repositioned at the oldest retained event.
	ErrReaderOverrun = errors.New("event reader overrun: buffered events were trimmed")
)
