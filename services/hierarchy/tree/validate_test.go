// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tree

import "testing"

func TestChecker_SelfParent(t *testing.T) {
	idx := NewIndex()
	c := Checker{Live: AllLive()}

	ok, reason := c.IsAdmissible(idx, ent(1), ent(1))
	if ok {
		t.Error("self-parent edge must be rejected")
	}
	if reason != ReasonSelfParent {
		t.Errorf("reason = %q, want %q", reason, ReasonSelfParent)
	}
}

func TestChecker_DeadParent(t *testing.T) {
	idx := NewIndex()
	dead := ent(7)
	c := Checker{Live: LivenessFunc(func(e Entity) bool { return e != dead })}

	ok, reason := c.IsAdmissible(idx, ent(1), dead)
	if ok {
		t.Error("edge to a dead parent must be rejected")
	}
	if reason != ReasonDeadParent {
		t.Errorf("reason = %q, want %q", reason, ReasonDeadParent)
	}
}

func TestChecker_CycleDetection(t *testing.T) {
	idx := NewIndex()
	a, b, c := ent(1), ent(2), ent(3)
	idx.Admit(b, a)
	idx.Admit(c, b)
	checker := Checker{Live: AllLive()}

	// a -> c would make a its own ancestor (a is c's grandparent).
	ok, reason := checker.IsAdmissible(idx, a, c)
	if ok {
		t.Error("cycle-closing edge must be rejected")
	}
	if reason != ReasonCycle {
		t.Errorf("reason = %q, want %q", reason, ReasonCycle)
	}

	// Unrelated root stays admissible.
	if ok, _ := checker.IsAdmissible(idx, ent(9), a); !ok {
		t.Error("edge to an unrelated ancestor should be admissible")
	}
}

func TestChecker_DirectCycle(t *testing.T) {
	idx := NewIndex()
	a, b := ent(1), ent(2)
	idx.Admit(a, b)
	checker := Checker{Live: AllLive()}

	if ok, _ := checker.IsAdmissible(idx, b, a); ok {
		t.Error("two-entity cycle must be rejected")
	}
}

func TestChecker_WalkBoundExceeded(t *testing.T) {
	// Corrupt the index directly to simulate a transient parent loop
	// the checker must not spin on.
	idx := NewIndex()
	a, b := ent(1), ent(2)
	idx.parents[a] = b
	idx.parents[b] = a
	idx.arrival[a] = 1
	idx.arrival[b] = 2
	checker := Checker{Live: AllLive()}

	ok, reason := checker.IsAdmissible(idx, ent(3), a)
	if ok {
		t.Error("walk over a corrupted parent loop must be rejected")
	}
	if reason != ReasonWalkBound {
		t.Errorf("reason = %q, want %q", reason, ReasonWalkBound)
	}
}
