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

import "fmt"

// Entity is an opaque handle owned by the external identity system.
//
// The handle packs a 32-bit slot index and a 32-bit generation stamp so
// recycled slots produce distinct handles. The tree package never
// inspects the parts except for display; it only compares handles and
// uses them as map keys.
type Entity uint64

// NilEntity is the zero handle. It never identifies a real entity.
const NilEntity Entity = 0

// NewEntity builds a handle from a slot index and a generation stamp.
func NewEntity(index, generation uint32) Entity {
	return Entity(uint64(generation)<<32 | uint64(index))
}

// Index returns the slot index of the handle.
func (e Entity) Index() uint32 {
	return uint32(e)
}

// Generation returns the generation stamp of the handle.
func (e Entity) Generation() uint32 {
	return uint32(e >> 32)
}

// String returns "index@generation" for logs and diagnostics.
func (e Entity) String() string {
	return fmt.Sprintf("%d@%d", e.Index(), e.Generation())
}

// Liveness answers whether an entity is still alive.
//
// Implemented by the external identity system. The hierarchy consults it
// when validating a proposed parent and during the per-pass sweep that
// revokes dead entities.
type Liveness interface {
	// Alive reports whether the entity currently exists.
	Alive(e Entity) bool
}

// LivenessFunc adapts a plain function to the Liveness interface.
type LivenessFunc func(e Entity) bool

// Alive calls the wrapped function.
func (f LivenessFunc) Alive(e Entity) bool {
	return f(e)
}

// AllLive returns a Liveness under which every entity is alive.
//
// Useful for hosts that guarantee referential integrity upstream, and
// for tests that do not exercise entity death.
func AllLive() Liveness {
	return LivenessFunc(func(Entity) bool { return true })
}
