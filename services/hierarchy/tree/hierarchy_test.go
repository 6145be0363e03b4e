// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tree

import (
	"context"
	"testing"
)

// drainKinds drains the reader and folds the events into a per-entity
// kind map, failing the test on a drain error.
func drainKinds(t *testing.T, r *Reader) map[Entity]ChangeKind {
	t.Helper()
	events, err := r.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	kinds := make(map[Entity]ChangeKind, len(events))
	for _, ev := range events {
		kinds[ev.Entity] = ev.Kind
	}
	if len(kinds) != len(events) {
		t.Fatalf("Duplicate entity in one batch: %v", events)
	}
	return kinds
}

func sameOrder(a, b []Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHierarchy_BasicChain(t *testing.T) {
	h := New()
	r := h.Events().NewReader()
	feed := NewSliceFeed()

	a, b, c := ent(1), ent(2), ent(3)
	feed.Insert(b, a)
	feed.Insert(c, b)

	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if stats.Admitted != 2 || stats.Events != 2 {
		t.Errorf("stats = %+v, want 2 events, 2 admitted", stats)
	}

	if got := h.AllInOrder(); !sameOrder(got, []Entity{a, b, c}) {
		t.Errorf("AllInOrder = %v, want [%v %v %v]", got, a, b, c)
	}
	if p, ok := h.Parent(b); !ok || p != a {
		t.Errorf("Parent(b) = %v, %v; want %v, true", p, ok, a)
	}
	if p, ok := h.Parent(c); !ok || p != b {
		t.Errorf("Parent(c) = %v, %v; want %v, true", p, ok, b)
	}
	if _, ok := h.Parent(a); ok {
		t.Error("Root should have no parent")
	}

	kinds := drainKinds(t, r)
	if len(kinds) != 2 || kinds[b] != ChangeAdded || kinds[c] != ChangeAdded {
		t.Errorf("events = %v, want Added(b) and Added(c) only", kinds)
	}
}

func TestHierarchy_Reparent(t *testing.T) {
	h := New()
	feed := NewSliceFeed()
	a, b, c := ent(1), ent(2), ent(3)

	feed.Insert(b, a)
	feed.Insert(c, a)
	if _, err := h.Maintain(context.Background(), feed); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}

	r := h.Events().NewReader()
	feed.Modify(c, a, b)
	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if stats.Reparented != 1 || stats.Admitted != 0 {
		t.Errorf("stats = %+v, want 1 reparented, 0 admitted", stats)
	}

	kinds := drainKinds(t, r)
	if len(kinds) != 1 || kinds[c] != ChangeModified {
		t.Errorf("events = %v, want Modified(c) only", kinds)
	}
	if got := h.Children(a); !sameOrder(got, []Entity{b}) {
		t.Errorf("Children(a) = %v, want [%v]", got, b)
	}
	if got := h.Children(b); !sameOrder(got, []Entity{c}) {
		t.Errorf("Children(b) = %v, want [%v]", got, c)
	}
	if got := h.AllInOrder(); !sameOrder(got, []Entity{a, b, c}) {
		t.Errorf("AllInOrder = %v, want [%v %v %v]", got, a, b, c)
	}
}

func TestHierarchy_AncestorRemovalCascades(t *testing.T) {
	h := New()
	feed := NewSliceFeed()
	a, b, c, d := ent(1), ent(2), ent(3), ent(4)

	feed.Insert(b, a)
	feed.Insert(c, b)
	feed.Insert(d, c)
	if _, err := h.Maintain(context.Background(), feed); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}

	r := h.Events().NewReader()
	feed.Remove(b)
	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if stats.Revoked != 3 {
		t.Errorf("Revoked = %d, want 3 (b, c, d)", stats.Revoked)
	}

	kinds := drainKinds(t, r)
	if len(kinds) != 3 {
		t.Fatalf("events = %v, want Removed for b, c, d", kinds)
	}
	for _, e := range []Entity{b, c, d} {
		if kinds[e] != ChangeRemoved {
			t.Errorf("%v -> %v, want Removed", e, kinds[e])
		}
		if h.Has(e) {
			t.Errorf("Has(%v) = true after cascade revoke", e)
		}
	}
	// The former root stays in the hierarchy until revoked itself.
	if got := h.AllInOrder(); !sameOrder(got, []Entity{a}) {
		t.Errorf("AllInOrder = %v, want [%v]", got, a)
	}
}

func TestHierarchy_IntraPassChurnCancelsOut(t *testing.T) {
	h := New()
	r := h.Events().NewReader()
	feed := NewSliceFeed()
	a, b, c := ent(1), ent(2), ent(3)

	// b joins and leaves within one pass: no net event.
	feed.Insert(b, a)
	feed.Remove(b)
	// c joins and reparents within one pass: single Added at the final
	// parent.
	feed.Insert(c, a)
	feed.Modify(c, a, b)

	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if stats.Published != 1 {
		t.Errorf("Published = %d, want 1", stats.Published)
	}

	kinds := drainKinds(t, r)
	if len(kinds) != 1 || kinds[c] != ChangeAdded {
		t.Errorf("events = %v, want Added(c) only", kinds)
	}
	if h.Has(b) {
		t.Error("b should not be admitted after insert+remove in one pass")
	}
	if p, ok := h.Parent(c); !ok || p != b {
		t.Errorf("Parent(c) = %v, %v; want the final parent %v", p, ok, b)
	}
}

func TestHierarchy_CyclePairKeepsFirstEdge(t *testing.T) {
	h := New()
	r := h.Events().NewReader()
	feed := NewSliceFeed()
	a, b := ent(1), ent(2)

	feed.Insert(a, b)
	feed.Insert(b, a) // closes a cycle against the edge above

	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if stats.Rejected != 1 || stats.Admitted != 1 {
		t.Errorf("stats = %+v, want 1 admitted, 1 rejected", stats)
	}

	if !h.Has(a) {
		t.Error("First edge a<-b should survive the rejected second edge")
	}
	if h.Has(b) {
		t.Error("b should not be admitted after its edge was rejected")
	}
	if got := h.AllInOrder(); !sameOrder(got, []Entity{b, a}) {
		t.Errorf("AllInOrder = %v, want [%v %v]", got, b, a)
	}

	kinds := drainKinds(t, r)
	if len(kinds) != 1 || kinds[a] != ChangeAdded {
		t.Errorf("events = %v, want Added(a) only", kinds)
	}
}

func TestHierarchy_SelfParentRejected(t *testing.T) {
	h := New()
	r := h.Events().NewReader()
	feed := NewSliceFeed()
	a := ent(1)

	feed.Insert(a, a)
	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain should not fail on a rejected edge: %v", err)
	}
	if stats.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", stats.Rejected)
	}
	if h.MemberCount() != 0 {
		t.Errorf("MemberCount = %d, want 0", h.MemberCount())
	}
	if kinds := drainKinds(t, r); len(kinds) != 0 {
		t.Errorf("events = %v, want none", kinds)
	}
}

func TestHierarchy_RejectionOfAdmittedEntityEmitsRemoved(t *testing.T) {
	h := New()
	feed := NewSliceFeed()
	a, b := ent(1), ent(2)

	feed.Insert(b, a)
	if _, err := h.Maintain(context.Background(), feed); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}

	r := h.Events().NewReader()
	feed.Modify(b, a, b) // self-parent, rejected
	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if stats.Rejected != 1 || stats.Revoked != 1 {
		t.Errorf("stats = %+v, want 1 rejected, 1 revoked", stats)
	}

	kinds := drainKinds(t, r)
	if len(kinds) != 1 || kinds[b] != ChangeRemoved {
		t.Errorf("events = %v, want Removed(b) only", kinds)
	}
	if h.Has(b) {
		t.Error("b should have lost its admission")
	}
}

func TestHierarchy_DeadParentRejected(t *testing.T) {
	a, b := ent(1), ent(2)
	h := New(WithLiveness(LivenessFunc(func(e Entity) bool {
		return e != a
	})))
	feed := NewSliceFeed()

	feed.Insert(b, a)
	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if stats.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", stats.Rejected)
	}
	if h.MemberCount() != 0 {
		t.Errorf("MemberCount = %d, want 0", h.MemberCount())
	}
}

func TestHierarchy_DeadEntitySweepCascades(t *testing.T) {
	a, b, c := ent(1), ent(2), ent(3)
	dead := map[Entity]bool{}
	h := New(WithLiveness(LivenessFunc(func(e Entity) bool {
		return !dead[e]
	})))
	feed := NewSliceFeed()

	feed.Insert(b, a)
	feed.Insert(c, b)
	if _, err := h.Maintain(context.Background(), feed); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}

	r := h.Events().NewReader()
	dead[b] = true

	// No new relation events; the pass still sweeps dead members.
	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if stats.Events != 0 {
		t.Errorf("Events = %d, want 0", stats.Events)
	}
	if stats.Revoked != 2 {
		t.Errorf("Revoked = %d, want 2 (b and its subtree)", stats.Revoked)
	}

	kinds := drainKinds(t, r)
	if len(kinds) != 2 || kinds[b] != ChangeRemoved || kinds[c] != ChangeRemoved {
		t.Errorf("events = %v, want Removed(b) and Removed(c)", kinds)
	}
	if got := h.AllInOrder(); !sameOrder(got, []Entity{a}) {
		t.Errorf("AllInOrder = %v, want [%v]", got, a)
	}
}

func TestHierarchy_ReplayIsDeterministic(t *testing.T) {
	feed := NewSliceFeed()
	a, b, c, d := ent(1), ent(2), ent(3), ent(4)
	feed.Insert(b, a)
	feed.Insert(c, a)
	feed.Insert(d, c)
	feed.Modify(c, a, b)
	feed.Remove(d)

	run := func() ([]Entity, []Event) {
		h := New()
		r := h.Events().NewReader()
		if _, err := h.Maintain(context.Background(), feed); err != nil {
			t.Fatalf("Maintain failed: %v", err)
		}
		events, err := r.Drain()
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		return h.AllInOrder(), events
	}

	order1, events1 := run()
	order2, events2 := run()

	if !sameOrder(order1, order2) {
		t.Errorf("Orders differ across replays: %v vs %v", order1, order2)
	}
	if len(events1) != len(events2) {
		t.Fatalf("Event counts differ: %v vs %v", events1, events2)
	}
	for i := range events1 {
		if events1[i].Entity != events2[i].Entity || events1[i].Kind != events2[i].Kind {
			t.Errorf("Event %d differs: %v vs %v", i, events1[i], events2[i])
		}
	}
}

func TestHierarchy_CursorAdvancesAndQuiescentPassIsSilent(t *testing.T) {
	h := New()
	feed := NewSliceFeed()
	a, b := ent(1), ent(2)

	seq := feed.Insert(b, a)
	if _, err := h.Maintain(context.Background(), feed); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if h.Cursor() != seq {
		t.Errorf("Cursor = %d, want %d", h.Cursor(), seq)
	}

	r := h.Events().NewReader()
	stats, err := h.Maintain(context.Background(), feed)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if stats.Events != 0 || stats.Published != 0 {
		t.Errorf("stats = %+v, want a silent pass", stats)
	}
	if kinds := drainKinds(t, r); len(kinds) != 0 {
		t.Errorf("events = %v, want none", kinds)
	}
}

func TestHierarchy_NilFeed(t *testing.T) {
	h := New()
	if _, err := h.Maintain(context.Background(), nil); err != ErrNilFeed {
		t.Errorf("err = %v, want ErrNilFeed", err)
	}
}
