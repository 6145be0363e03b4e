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

import "sort"

// rebuildOrder recomputes the parent-before-child linear order.
//
// Description:
//
//	Full recomputation: collect the members with no parent edge (the
//	roots of the admitted forest), visit them in arrival order, and
//	walk each subtree pre-order following child lists. Every member is
//	visited exactly once, parents strictly before their descendants,
//	siblings in insertion order.
//
//	Members unreachable from any root indicate broken invariant
//	maintenance. They are excluded from the order and returned as
//	faults; the caller drops them from the hierarchy and reports
//	through diagnostics rather than aborting the pass.
//
// Inputs:
//
//	idx - The relation index to linearize.
//
// Outputs:
//
//	[]Entity - The topological order over all reachable members.
//	[]Entity - Unreachable members (internal-consistency faults).
func rebuildOrder(idx *Index) ([]Entity, []Entity) {
	roots := make([]Entity, 0)
	for _, e := range idx.members() {
		if !idx.Has(e) {
			roots = append(roots, e)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return idx.arrival[roots[i]] < idx.arrival[roots[j]]
	})

	order := make([]Entity, 0, idx.MemberCount())
	visited := make(map[Entity]bool, idx.MemberCount())

	// Iterative pre-order; children are pushed in reverse so they pop
	// in insertion order.
	stack := make([]Entity, 0, idx.MemberCount())
	for _, root := range roots {
		stack = append(stack, root)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[cur] {
				continue
			}
			visited[cur] = true
			order = append(order, cur)

			kids := idx.children[cur]
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, kids[i])
			}
		}
	}

	if len(order) == idx.MemberCount() {
		return order, nil
	}

	faults := make([]Entity, 0)
	for _, e := range idx.members() {
		if !visited[e] {
			faults = append(faults, e)
		}
	}
	return order, faults
}
