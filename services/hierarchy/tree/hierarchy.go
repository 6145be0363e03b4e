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
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Options configures Hierarchy behavior.
type Options struct {
	// Liveness is the external identity system.
	// Default: AllLive().
	Liveness Liveness

	// EventBuffer is the number of emitted events retained for cursor
	// readers. Default: DefaultEventBuffer.
	EventBuffer int

	// Logger receives rejection and fault diagnostics.
	// Default: slog.Default().
	Logger *slog.Logger
}

// Option is a functional option for configuring Hierarchy.
type Option func(*Options)

// WithLiveness sets the external identity system.
func WithLiveness(l Liveness) Option {
	return func(o *Options) {
		o.Liveness = l
	}
}

// WithEventBuffer sets the emitted-event retention window.
func WithEventBuffer(n int) Option {
	return func(o *Options) {
		o.EventBuffer = n
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// PassStats summarizes one maintenance pass.
type PassStats struct {
	// Events is the number of relation events consumed.
	Events int

	// Admitted is the number of entities newly admitted.
	Admitted int

	// Reparented is the number of already-admitted entities whose edge
	// was redirected.
	Reparented int

	// Rejected is the number of edges refused by the validity checker.
	Rejected int

	// Revoked is the number of admissions revoked, including cascades.
	Revoked int

	// Faults is the number of members found unreachable during rebuild
	// and dropped (internal-consistency faults).
	Faults int

	// Published is the number of net-effect events emitted.
	Published int

	// OrderLen is the length of the topological order after the pass.
	OrderLen int

	// Cursor is the feed cursor after the pass (last consumed Seq).
	Cursor uint64
}

// Hierarchy is the derived tree over the external parent relation.
//
// Description:
//
//	Hierarchy owns the relation index, the topological order, and the
//	net-effect event feed. External code mutates the raw relation and
//	records the changes in a FeedReader; Maintain consumes the new
//	events, updates the projections, and publishes the net effect.
//
// Lifecycle:
//
//  1. Create with New(...)
//  2. Run Maintain per scheduling tick (one pass at a time)
//  3. Query Parent/Children/AllInOrder between passes
//  4. Drain change events via Events().NewReader() or Subscribe
//
// Thread Safety:
//
//	Safe for concurrent use. Maintain takes the write side of an
//	internal RWMutex; queries take the read side, so readers observe
//	either the pre-pass or the post-pass state, never a partial pass.
type Hierarchy struct {
	mu      sync.RWMutex
	index   *Index
	checker Checker
	emitter *Emitter
	order   []Entity
	cursor  uint64
	logger  *slog.Logger
}

// New creates an empty hierarchy.
//
// Example:
//
//	h := tree.New(
//	    tree.WithLiveness(registry),
//	    tree.WithEventBuffer(16384),
//	)
func New(opts ...Option) *Hierarchy {
	options := Options{
		Liveness:    AllLive(),
		EventBuffer: DefaultEventBuffer,
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Hierarchy{
		index:   NewIndex(),
		checker: Checker{Live: options.Liveness},
		emitter: NewEmitter(options.EventBuffer),
		order:   []Entity{},
		logger:  options.Logger,
	}
}

// Maintain runs one maintenance pass over the feed.
//
// Description:
//
//	Reads all events past the current cursor, applies them in sequence
//	order through the validity checker, revokes entities that died
//	since the previous pass, rebuilds the topological order, and
//	publishes the net-effect events. The pass runs to completion with
//	exclusive access; replaying the same batch from the same starting
//	state yields the same state and events.
//
// Inputs:
//
//	ctx - Used for tracing and for cancelling the feed read. Once
//	      mutation starts the pass cannot be cancelled; it either
//	      completes fully or, on feed error, never starts.
//	feed - The relation-event feed. Must not be nil.
//
// Outputs:
//
//	PassStats - Summary of the pass.
//	error - ErrNilFeed, or an error from the feed read. The hierarchy
//	        state is unchanged when an error is returned.
func (h *Hierarchy) Maintain(ctx context.Context, feed FeedReader) (PassStats, error) {
	if feed == nil {
		return PassStats{}, ErrNilFeed
	}

	ctx, span := tracer.Start(ctx, "hierarchy.maintain")
	defer span.End()

	start := time.Now()

	h.mu.Lock()
	events, err := feed.ReadSince(ctx, h.cursor)
	if err != nil {
		h.mu.Unlock()
		span.RecordError(err)
		return PassStats{}, err
	}

	stats := PassStats{Events: len(events), Cursor: h.cursor}
	for _, ev := range events {
		h.apply(ev, &stats)
		stats.Cursor = ev.Seq
	}

	stats.Revoked += h.sweepDead()

	order, faults := rebuildOrder(h.index)
	for _, e := range faults {
		// Unreachable member: invariant maintenance bug. Drop the
		// entity, keep the pass alive.
		h.logger.Error("hierarchy internal-consistency fault: unreachable member dropped",
			"entity", e.String(),
		)
		h.index.Revoke(e)
		stats.Faults++
	}
	h.order = order
	stats.OrderLen = len(order)

	published := h.emitter.Publish(coalesce(h.index.DrainTouches(), h.index))
	stats.Published = len(published)
	h.cursor = stats.Cursor
	h.mu.Unlock()

	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int("events", stats.Events),
		attribute.Int("rejected", stats.Rejected),
		attribute.Int("published", stats.Published),
		attribute.Int("order_len", stats.OrderLen),
	)
	recordPassMetrics(ctx, duration, stats)
	return stats, nil
}

// apply commits one relation event to the index.
func (h *Hierarchy) apply(ev RelationEvent, stats *PassStats) {
	switch ev.Kind {
	case RelationInserted, RelationModified:
		ok, reason := h.checker.IsAdmissible(h.index, ev.Entity, ev.Parent)
		if !ok {
			// Structural violation: reject the edge and treat the
			// entity's own admission as removed. Non-fatal.
			stats.Rejected++
			if h.index.Orphan(ev.Entity) {
				stats.Revoked++
			}
			h.logger.Debug("relation edge rejected",
				"entity", ev.Entity.String(),
				"parent", ev.Parent.String(),
				"reason", reason,
				"seq", ev.Seq,
			)
			return
		}
		if h.index.Admit(ev.Entity, ev.Parent) {
			stats.Admitted++
		} else {
			stats.Reparented++
		}

	case RelationRemoved:
		stats.Revoked += h.index.Revoke(ev.Entity)
	}
}

// sweepDead revokes members that died since the previous pass. Revoking
// a dead entity cascades to its subtree, which also covers children
// whose parent died.
func (h *Hierarchy) sweepDead() int {
	revoked := 0
	for _, e := range h.index.members() {
		if !h.index.Member(e) {
			continue // already revoked by an earlier cascade
		}
		if !h.checker.Live.Alive(e) {
			revoked += h.index.Revoke(e)
		}
	}
	return revoked
}

// Parent returns the current parent of entity.
//
// Outputs:
//
//	Entity - The parent, valid when the second result is true.
//	bool - False if the entity is a root or not in the hierarchy.
func (h *Hierarchy) Parent(entity Entity) (Entity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.Parent(entity)
}

// Children returns the current child list of entity in insertion order.
// The returned slice is a copy.
func (h *Hierarchy) Children(entity Entity) []Entity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.Children(entity)
}

// Has reports whether entity is currently admitted (holds a parent
// edge).
func (h *Hierarchy) Has(entity Entity) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.Has(entity)
}

// AllInOrder returns the topological order: every parent strictly
// before all of its descendants. The returned slice is a copy.
func (h *Hierarchy) AllInOrder() []Entity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entity, len(h.order))
	copy(out, h.order)
	return out
}

// Events returns the emitter carrying the net-effect change feed.
func (h *Hierarchy) Events() *Emitter {
	return h.emitter
}

// Member reports whether entity occupies an order slot, either through
// its own admission or as the parent of an admitted entity.
func (h *Hierarchy) Member(entity Entity) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.Member(entity)
}

// Cursor returns the feed cursor (Seq of the last consumed event).
func (h *Hierarchy) Cursor() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cursor
}

// MemberCount returns the number of entities in the hierarchy.
func (h *Hierarchy) MemberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.MemberCount()
}

// AdmittedCount returns the number of entities holding a parent edge.
func (h *Hierarchy) AdmittedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.AdmittedCount()
}
