// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tree

import "testing"

func ent(i uint32) Entity {
	return NewEntity(i, 0)
}

func TestIndex_AdmitNewEntity(t *testing.T) {
	idx := NewIndex()
	a, b := ent(1), ent(2)

	if !idx.Admit(b, a) {
		t.Error("Admit of a new entity should report newly admitted")
	}
	if !idx.Has(b) {
		t.Error("Expected Has(b) == true after admit")
	}
	if idx.Has(a) {
		t.Error("Parent-only member should not be admitted")
	}
	if !idx.Member(a) {
		t.Error("Parent should be a member")
	}

	p, ok := idx.Parent(b)
	if !ok || p != a {
		t.Errorf("Parent(b) = %v, %v; want %v, true", p, ok, a)
	}
}

func TestIndex_AdmitSameParentIsNoOp(t *testing.T) {
	idx := NewIndex()
	a, b := ent(1), ent(2)

	idx.Admit(b, a)
	idx.DrainTouches()

	if idx.Admit(b, a) {
		t.Error("Re-admitting under the same parent should not report newly admitted")
	}
	if len(idx.DrainTouches()) != 0 {
		t.Error("No-op admit should not record a touch")
	}
	if got := idx.Children(a); len(got) != 1 {
		t.Errorf("Expected single child, got %v", got)
	}
}

func TestIndex_AdmitRelocatesChild(t *testing.T) {
	idx := NewIndex()
	a, b, c := ent(1), ent(2), ent(3)

	idx.Admit(b, a)
	idx.Admit(c, b)
	if idx.Admit(c, a) {
		t.Error("Reparent should not report newly admitted")
	}

	if got := idx.Children(b); len(got) != 0 {
		t.Errorf("children(b) = %v, want empty after relocation", got)
	}
	kids := idx.Children(a)
	if len(kids) != 2 || kids[0] != b || kids[1] != c {
		t.Errorf("children(a) = %v, want [b c] in insertion order", kids)
	}
	if !idx.Member(b) {
		t.Error("b should stay a member after losing its last child (still admitted)")
	}
}

func TestIndex_ChildOrderIsInsertionOrder(t *testing.T) {
	idx := NewIndex()
	parent := ent(1)
	want := []Entity{ent(5), ent(3), ent(9), ent(2)}

	for _, e := range want {
		idx.Admit(e, parent)
	}

	got := idx.Children(parent)
	if len(got) != len(want) {
		t.Fatalf("children = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("children[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestIndex_RevokeCascades(t *testing.T) {
	idx := NewIndex()
	a, b, c, d := ent(1), ent(2), ent(3), ent(4)

	idx.Admit(b, a)
	idx.Admit(c, b)
	idx.Admit(d, c)

	revoked := idx.Revoke(b)
	if revoked != 3 {
		t.Errorf("Revoke(b) = %d, want 3 (b, c, d)", revoked)
	}
	for _, e := range []Entity{b, c, d} {
		if idx.Has(e) {
			t.Errorf("Has(%v) should be false after cascade", e)
		}
		if idx.Member(e) {
			t.Errorf("Member(%v) should be false after cascade", e)
		}
	}
	if !idx.Member(a) {
		t.Error("a should remain a member after its subtree is revoked")
	}
	if got := idx.Children(a); len(got) != 0 {
		t.Errorf("children(a) = %v, want empty", got)
	}
}

func TestIndex_RevokeNonMemberIsNoOp(t *testing.T) {
	idx := NewIndex()
	if got := idx.Revoke(ent(42)); got != 0 {
		t.Errorf("Revoke of unknown entity = %d, want 0", got)
	}
}

func TestIndex_RevokeUnadmittedRootCascades(t *testing.T) {
	idx := NewIndex()
	a, b, c := ent(1), ent(2), ent(3)

	idx.Admit(b, a)
	idx.Admit(c, b)

	// a holds no edge of its own; revoking it still takes the subtree.
	if got := idx.Revoke(a); got != 2 {
		t.Errorf("Revoke(a) = %d, want 2 (b, c)", got)
	}
	if idx.MemberCount() != 0 {
		t.Errorf("MemberCount = %d, want 0", idx.MemberCount())
	}
}

func TestIndex_OrphanKeepsSubtree(t *testing.T) {
	idx := NewIndex()
	a, b, c := ent(1), ent(2), ent(3)

	idx.Admit(b, a)
	idx.Admit(c, b)

	if !idx.Orphan(b) {
		t.Error("Orphan of an admitted entity should report a revoked edge")
	}
	if idx.Has(b) {
		t.Error("b should not be admitted after Orphan")
	}
	if !idx.Member(b) {
		t.Error("b should stay a member: it still parents c")
	}
	if !idx.Has(c) {
		t.Error("c's edge must survive its parent being orphaned")
	}
}

func TestIndex_OrphanChildlessLeavesHierarchy(t *testing.T) {
	idx := NewIndex()
	a, b := ent(1), ent(2)

	idx.Admit(b, a)
	idx.Orphan(b)

	if idx.Member(b) {
		t.Error("childless orphaned entity should leave the hierarchy")
	}
}

func TestIndex_TouchRecordsFirstStateOnly(t *testing.T) {
	idx := NewIndex()
	a, b, c := ent(1), ent(2), ent(3)

	idx.Admit(b, a)
	idx.Admit(b, c) // reparent in the same pass

	touches := idx.DrainTouches()
	tch, ok := touches[b]
	if !ok {
		t.Fatal("expected a touch for b")
	}
	if tch.WasAdmitted {
		t.Error("first touch should capture the pre-pass state (not admitted)")
	}
}
