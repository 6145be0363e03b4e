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

// Touch is a first-touch snapshot of an entity's state at the start of
// the pass that touched it.
//
// The index records one Touch per entity the first time a pass mutates
// that entity's edge. The emitter compares the snapshot against the
// end-of-pass state to compute the net Added/Modified/Removed effect.
type Touch struct {
	// Entity is the touched entity.
	Entity Entity

	// WasAdmitted reports whether the entity held a parent edge when
	// the pass first touched it.
	WasAdmitted bool

	// OldParent is the parent at first touch (valid when WasAdmitted).
	OldParent Entity
}

// Index owns the parent and children projections of the hierarchy.
//
// Description:
//
//	Index tracks, for every entity currently in the hierarchy, its
//	parent edge (if admitted) and its ordered child list. Sibling order
//	is insertion order; it is stable but carries no further meaning.
//	Membership is broader than admission: a parent referenced by an
//	admitted child is a member (it occupies a slot in the topological
//	order) without being admitted itself.
//
// Thread Safety:
//
//	NOT safe for concurrent use. The owning Hierarchy serializes all
//	access behind its pass lock.
type Index struct {
	// parents maps an admitted entity to its parent.
	parents map[Entity]Entity

	// children maps a member to its children in insertion order.
	children map[Entity][]Entity

	// arrival stamps each member with the order it entered the
	// hierarchy. Used for deterministic root ordering in rebuilds.
	arrival map[Entity]uint64

	// nextArrival is the next arrival stamp to hand out.
	nextArrival uint64

	// touches holds the first-touch snapshots of the current pass.
	touches map[Entity]Touch
}

// NewIndex creates an empty relation index.
func NewIndex() *Index {
	return &Index{
		parents:  make(map[Entity]Entity),
		children: make(map[Entity][]Entity),
		arrival:  make(map[Entity]uint64),
		touches:  make(map[Entity]Touch),
	}
}

// Has reports the current admission state of entity.
//
// Admitted means the entity holds a parent edge. Roots that entered the
// hierarchy only as parents of admitted children are members but not
// admitted; Has returns false for them.
func (x *Index) Has(entity Entity) bool {
	_, ok := x.parents[entity]
	return ok
}

// Member reports whether entity currently occupies a slot in the
// hierarchy, either as an admitted child or as a referenced parent.
func (x *Index) Member(entity Entity) bool {
	_, ok := x.arrival[entity]
	return ok
}

// Parent returns the parent of entity and whether it is admitted.
func (x *Index) Parent(entity Entity) (Entity, bool) {
	p, ok := x.parents[entity]
	return p, ok
}

// Children returns the child list of entity in insertion order.
//
// The returned slice is a copy; callers may retain it across passes.
func (x *Index) Children(entity Entity) []Entity {
	kids := x.children[entity]
	if len(kids) == 0 {
		return []Entity{}
	}
	out := make([]Entity, len(kids))
	copy(out, kids)
	return out
}

// MemberCount returns the number of entities currently in the hierarchy.
func (x *Index) MemberCount() int {
	return len(x.arrival)
}

// AdmittedCount returns the number of entities holding a parent edge.
func (x *Index) AdmittedCount() int {
	return len(x.parents)
}

// Admit records the edge entity -> parent.
//
// Description:
//
//	Sets parent as entity's parent, relocating entity from any previous
//	parent's child list. Both entity and parent become members. The
//	caller is responsible for validating the edge first (see
//	Checker.IsAdmissible); Admit itself only refuses the degenerate
//	no-op of re-admitting under the current parent.
//
// Inputs:
//
//	entity - The child side of the edge.
//	parent - The new parent.
//
// Outputs:
//
//	bool - True if the entity was newly admitted, false if it was
//	       already admitted (reparent or no-op).
func (x *Index) Admit(entity, parent Entity) bool {
	old, had := x.parents[entity]
	if had && old == parent {
		return false
	}

	x.touch(entity)
	if had {
		x.unlink(old, entity)
	}

	x.parents[entity] = parent
	x.children[parent] = append(x.children[parent], entity)
	x.noteArrival(entity)
	x.noteArrival(parent)
	return !had
}

// Revoke removes entity from the hierarchy with full cascade.
//
// Description:
//
//	Removes entity's parent edge and membership, then recursively
//	revokes every entity in its child subtree, each exactly once.
//	Used for explicit Removed events and for dead entities. An entity
//	that is not a member is a no-op.
//
// Inputs:
//
//	entity - The root of the subtree to revoke.
//
// Outputs:
//
//	int - Number of admitted entities that lost their edge (the
//	      subtree roots's own edge, if any, plus every descendant).
func (x *Index) Revoke(entity Entity) int {
	if !x.Member(entity) {
		return 0
	}

	revoked := 0
	if p, ok := x.parents[entity]; ok {
		x.touch(entity)
		delete(x.parents, entity)
		x.unlink(p, entity)
		revoked++
	}

	for _, kid := range x.children[entity] {
		revoked += x.revokeSubtree(kid)
	}
	delete(x.children, entity)
	delete(x.arrival, entity)
	return revoked
}

// revokeSubtree revokes a descendant whose ancestor is already being
// revoked. The descendant's parent edge points into the revoked region,
// so no unlink against the parent's child list is needed.
func (x *Index) revokeSubtree(entity Entity) int {
	x.touch(entity)
	delete(x.parents, entity)
	revoked := 1

	for _, kid := range x.children[entity] {
		revoked += x.revokeSubtree(kid)
	}
	delete(x.children, entity)
	delete(x.arrival, entity)
	return revoked
}

// Orphan severs entity's own parent edge without cascading.
//
// Description:
//
//	Used when a proposed edge for entity is rejected: the entity's net
//	state must become "not admitted", but its existing children keep
//	their edges and the entity stays a member as their parent. If the
//	entity ends up with neither edge nor children it leaves the
//	hierarchy entirely.
//
// Outputs:
//
//	bool - True if an admission was actually revoked.
func (x *Index) Orphan(entity Entity) bool {
	p, ok := x.parents[entity]
	if ok {
		x.touch(entity)
		delete(x.parents, entity)
		x.unlink(p, entity)
	}
	if len(x.children[entity]) == 0 {
		delete(x.children, entity)
		delete(x.arrival, entity)
	}
	return ok
}

// unlink removes child from parent's child list, dropping the parent's
// membership if it is left with no edge and no children of its own.
func (x *Index) unlink(parent, child Entity) {
	kids := x.children[parent]
	for i, k := range kids {
		if k == child {
			x.children[parent] = append(kids[:i], kids[i+1:]...)
			break
		}
	}
	if len(x.children[parent]) == 0 {
		delete(x.children, parent)
		// A parent-only member stays in the hierarchy even when its
		// last child leaves (it remains a lone root in the order);
		// it is dropped only by Revoke, Orphan, or the death sweep.
	}
}

// touch records the first-touch snapshot for entity in this pass.
func (x *Index) touch(entity Entity) {
	if _, seen := x.touches[entity]; seen {
		return
	}
	old, had := x.parents[entity]
	x.touches[entity] = Touch{Entity: entity, WasAdmitted: had, OldParent: old}
}

// noteArrival stamps entity as a member if it is not one already.
func (x *Index) noteArrival(entity Entity) {
	if _, ok := x.arrival[entity]; ok {
		return
	}
	x.nextArrival++
	x.arrival[entity] = x.nextArrival
}

// DrainTouches returns and clears the first-touch snapshots of the
// current pass. Called once by the Hierarchy at the end of each pass.
func (x *Index) DrainTouches() map[Entity]Touch {
	touches := x.touches
	x.touches = make(map[Entity]Touch)
	return touches
}

// members returns all current members. Order is unspecified.
func (x *Index) members() []Entity {
	out := make([]Entity, 0, len(x.arrival))
	for e := range x.arrival {
		out = append(out, e)
	}
	return out
}
