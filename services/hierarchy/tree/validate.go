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

// Rejection reasons reported by the checker. Used for logging and
// metrics attributes; rejections themselves are not errors.
const (
	// ReasonSelfParent: the proposed parent is the entity itself.
	ReasonSelfParent = "self_parent"

	// ReasonDeadParent: the proposed parent is dead per the identity
	// system.
	ReasonDeadParent = "dead_parent"

	// ReasonCycle: admitting the edge would make the entity its own
	// ancestor.
	ReasonCycle = "cycle"

	// ReasonWalkBound: the ancestor walk exceeded its defensive bound.
	// Treated exactly like a detected cycle.
	ReasonWalkBound = "walk_bound_exceeded"
)

// Checker validates proposed edges against the current index state.
//
// The checker is a pure validation gate: it mutates nothing and runs
// before any edge is committed. Raw relation data is treated as
// untrusted input.
type Checker struct {
	// Live is the external identity system. Must not be nil.
	Live Liveness
}

// IsAdmissible decides whether the edge entity -> parent may be
// committed to the index.
//
// Description:
//
//	Applies the structural rules in order: no self-parent, no dead
//	parent, no cycle. The cycle check walks the parent chain upward
//	from the proposed parent; the walk is bounded by the current
//	member count, and exceeding the bound is treated as a detected
//	cycle rather than looping forever on transiently inconsistent
//	state.
//
// Inputs:
//
//	idx - The current relation index (read only).
//	entity - The child side of the proposed edge.
//	parent - The proposed parent.
//
// Outputs:
//
//	bool - True if the edge may be admitted.
//	string - Empty when admissible, otherwise one of the Reason
//	         constants.
func (c Checker) IsAdmissible(idx *Index, entity, parent Entity) (bool, string) {
	if parent == entity {
		return false, ReasonSelfParent
	}
	if !c.Live.Alive(parent) {
		return false, ReasonDeadParent
	}

	// Walk upward from the proposed parent. Reaching the entity means
	// the edge would close a cycle.
	bound := idx.MemberCount()
	cur := parent
	for i := 0; i <= bound; i++ {
		next, ok := idx.Parent(cur)
		if !ok {
			return true, ""
		}
		if next == entity {
			return false, ReasonCycle
		}
		cur = next
	}
	return false, ReasonWalkBound
}
