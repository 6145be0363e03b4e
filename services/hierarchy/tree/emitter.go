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
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ChangeKind identifies the net effect of a pass on one entity.
type ChangeKind int

const (
	// ChangeAdded: the entity was not admitted at the start of the pass
	// and is admitted at the end.
	ChangeAdded ChangeKind = iota

	// ChangeModified: the entity was admitted at both ends of the pass
	// and its direct parent changed.
	ChangeModified

	// ChangeRemoved: the entity was admitted at the start of the pass
	// and is not admitted at the end.
	ChangeRemoved
)

// String returns the string representation of the ChangeKind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one entry in the emitted change feed.
type Event struct {
	// Seq is the emitter-assigned sequence number, strictly increasing.
	Seq uint64 `json:"seq"`

	// Entity is the affected entity.
	Entity Entity `json:"entity"`

	// Kind is the net effect for the pass that produced the event.
	Kind ChangeKind `json:"kind"`

	// Parent is the entity's parent at the end of the pass. Zero for
	// ChangeRemoved.
	Parent Entity `json:"parent,omitempty"`
}

// Handler is a function invoked for each published event.
type Handler func(event Event)

// DefaultEventBuffer is the default number of retained events.
const DefaultEventBuffer = 4096

// Emitter publishes net-effect change events to downstream consumers.
//
// Description:
//
//	Two delivery modes, both fed atomically at the end of each pass:
//
//	  - Cursor readers (NewReader): each Reader tracks its own position
//	    and observes every event exactly once, independent of other
//	    readers.
//	  - Handler subscriptions (Subscribe): push delivery, invoked
//	    synchronously during Publish in unspecified subscription order.
//
//	The emitter retains a bounded window of events. A Reader that falls
//	behind the window is repositioned at the oldest retained event and
//	its next Drain reports ErrReaderOverrun.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Emitter struct {
	mu      sync.RWMutex
	events  []Event
	base    uint64 // Seq of events[0]
	nextSeq uint64
	limit   int
	subs    map[string]Handler
}

// NewEmitter creates an emitter retaining up to limit events.
// A non-positive limit selects DefaultEventBuffer.
func NewEmitter(limit int) *Emitter {
	if limit <= 0 {
		limit = DefaultEventBuffer
	}
	return &Emitter{
		base:    1,
		nextSeq: 1,
		limit:   limit,
		subs:    make(map[string]Handler),
	}
}

// Publish appends a batch of events and notifies subscribers.
//
// Sequence numbers are assigned here; the batch is visible to readers
// atomically. Called once per pass by the Hierarchy while it still holds
// the pass lock, so readers never observe a partial pass.
func (em *Emitter) Publish(batch []Event) []Event {
	if len(batch) == 0 {
		return nil
	}

	em.mu.Lock()
	for i := range batch {
		batch[i].Seq = em.nextSeq
		em.nextSeq++
	}
	em.events = append(em.events, batch...)
	if over := len(em.events) - em.limit; over > 0 {
		em.events = em.events[over:]
		em.base = em.events[0].Seq
	}
	handlers := make([]Handler, 0, len(em.subs))
	for _, h := range em.subs {
		handlers = append(handlers, h)
	}
	em.mu.Unlock()

	for _, h := range handlers {
		for _, ev := range batch {
			h(ev)
		}
	}
	return batch
}

// Subscribe registers a push handler for every future event.
//
// Outputs:
//
//	string - Subscription ID for Unsubscribe.
func (em *Emitter) Subscribe(h Handler) string {
	em.mu.Lock()
	defer em.mu.Unlock()

	id := uuid.NewString()
	em.subs[id] = h
	return id
}

// Unsubscribe removes a push handler. Unknown IDs are ignored.
func (em *Emitter) Unsubscribe(id string) {
	em.mu.Lock()
	defer em.mu.Unlock()
	delete(em.subs, id)
}

// NewReader creates a cursor reader positioned after the newest
// published event. The reader sees every event published from now on
// exactly once.
func (em *Emitter) NewReader() *Reader {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return &Reader{em: em, cursor: em.nextSeq}
}

// Reader is an independent cursor over the emitted event feed.
//
// Thread Safety: a Reader may be used from one goroutine at a time;
// distinct Readers are fully independent.
type Reader struct {
	em     *Emitter
	cursor uint64
	closed bool
}

// Drain returns all events published since the previous Drain.
//
// Outputs:
//
//	[]Event - Events in sequence order. Empty if none pending.
//	error - ErrReaderClosed after Close; ErrReaderOverrun if the
//	        emitter trimmed events this reader had not observed (the
//	        reader is repositioned and subsequent drains succeed).
func (r *Reader) Drain() ([]Event, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}

	r.em.mu.RLock()
	defer r.em.mu.RUnlock()

	if r.cursor < r.em.base {
		r.cursor = r.em.base
		return nil, ErrReaderOverrun
	}
	start := int(r.cursor - r.em.base)
	if start >= len(r.em.events) {
		return nil, nil
	}
	out := make([]Event, len(r.em.events)-start)
	copy(out, r.em.events[start:])
	r.cursor = r.em.nextSeq
	return out, nil
}

// Close releases the reader. Further drains return ErrReaderClosed.
func (r *Reader) Close() {
	r.closed = true
}

// coalesce computes the net-effect events for a pass from the
// first-touch snapshots and the end-of-pass index state.
//
// Exactly one event per entity whose admission state or direct parent
// changed across the pass; entities whose intermediate churn cancelled
// out produce nothing. Events are ordered by entity handle for
// determinism (the order carries no meaning).
func coalesce(touches map[Entity]Touch, idx *Index) []Event {
	out := make([]Event, 0, len(touches))
	for e, t := range touches {
		parent, admitted := idx.Parent(e)
		switch {
		case !t.WasAdmitted && admitted:
			out = append(out, Event{Entity: e, Kind: ChangeAdded, Parent: parent})
		case t.WasAdmitted && !admitted:
			out = append(out, Event{Entity: e, Kind: ChangeRemoved})
		case t.WasAdmitted && admitted && t.OldParent != parent:
			out = append(out, Event{Entity: e, Kind: ChangeModified, Parent: parent})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}
