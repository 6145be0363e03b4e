// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hierarchy/services/hierarchy/tree"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.SyncWrites = false
	l, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func ev(kind tree.RelationKind, entity, parent uint32) tree.RelationEvent {
	return tree.RelationEvent{
		Kind:   kind,
		Entity: tree.NewEntity(entity, 0),
		Parent: tree.NewEntity(parent, 0),
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid in-memory config", func(t *testing.T) {
		cfg := Config{InMemory: true}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("valid persistent config", func(t *testing.T) {
		cfg := Config{Path: "/tmp/feedlog"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing path for persistent", func(t *testing.T) {
		cfg := Config{}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "path")
	})
}

func TestLog_AppendAssignsSequence(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	seq, err := l.Append(ctx, ev(tree.RelationInserted, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = l.Append(ctx, ev(tree.RelationInserted, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	assert.Equal(t, uint64(2), l.LastSeq())
}

func TestLog_AppendBatch(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	last, err := l.AppendBatch(ctx, []tree.RelationEvent{
		ev(tree.RelationInserted, 2, 1),
		ev(tree.RelationInserted, 3, 1),
		ev(tree.RelationRemoved, 3, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	events, err := l.ReadSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, got := range events {
		assert.Equal(t, uint64(i+1), got.Seq)
	}
	assert.Equal(t, tree.RelationRemoved, events[2].Kind)

	_, err = l.AppendBatch(ctx, nil)
	assert.Error(t, err)
}

func TestLog_ReadSinceIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	_, err := l.AppendBatch(ctx, []tree.RelationEvent{
		ev(tree.RelationInserted, 2, 1),
		ev(tree.RelationInserted, 3, 2),
		ev(tree.RelationModified, 3, 1),
	})
	require.NoError(t, err)

	events, err := l.ReadSince(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(3), events[0].Seq)
	assert.Equal(t, tree.RelationModified, events[0].Kind)

	events, err = l.ReadSince(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLog_RoundTripPreservesEvent(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	want := tree.RelationEvent{
		Kind:      tree.RelationModified,
		Entity:    tree.NewEntity(7, 3),
		Parent:    tree.NewEntity(1, 0),
		OldParent: tree.NewEntity(2, 1),
	}
	seq, err := l.Append(ctx, want)
	require.NoError(t, err)

	events, err := l.ReadSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, seq, got.Seq)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.Entity, got.Entity)
	assert.Equal(t, want.Parent, got.Parent)
	assert.Equal(t, want.OldParent, got.OldParent)
}

func TestLog_Checkpoint(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	_, err := l.AppendBatch(ctx, []tree.RelationEvent{
		ev(tree.RelationInserted, 2, 1),
		ev(tree.RelationInserted, 3, 1),
		ev(tree.RelationInserted, 4, 2),
	})
	require.NoError(t, err)

	require.NoError(t, l.Checkpoint(ctx, 2))

	events, err := l.ReadSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(3), events[0].Seq)

	stats := l.Stats()
	assert.Equal(t, uint64(3), stats.LastSeq)
	assert.Equal(t, uint64(2), stats.TruncatedThrough)

	// Appends continue the sequence after truncation.
	seq, err := l.Append(ctx, ev(tree.RelationInserted, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestLog_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false

	l, err := Open(cfg)
	require.NoError(t, err)

	_, err = l.AppendBatch(ctx, []tree.RelationEvent{
		ev(tree.RelationInserted, 2, 1),
		ev(tree.RelationInserted, 3, 2),
	})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := Open(cfg)
	require.NoError(t, err)
	defer l2.Close()

	// Sequence counter resumes from the persisted log.
	assert.Equal(t, uint64(2), l2.LastSeq())

	events, err := l2.ReadSince(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	seq, err := l2.Append(ctx, ev(tree.RelationRemoved, 3, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestLog_ClosedRejectsOperations(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)
	require.NoError(t, l.Close())

	_, err := l.Append(ctx, ev(tree.RelationInserted, 2, 1))
	assert.ErrorIs(t, err, ErrLogClosed)

	_, err = l.ReadSince(ctx, 0)
	assert.ErrorIs(t, err, ErrLogClosed)

	assert.ErrorIs(t, l.Checkpoint(ctx, 1), ErrLogClosed)

	// Close is idempotent.
	assert.NoError(t, l.Close())
}

func TestLog_FeedsHierarchy(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	a, b, c := tree.NewEntity(1, 0), tree.NewEntity(2, 0), tree.NewEntity(3, 0)
	_, err := l.AppendBatch(ctx, []tree.RelationEvent{
		{Kind: tree.RelationInserted, Entity: b, Parent: a},
		{Kind: tree.RelationInserted, Entity: c, Parent: b},
	})
	require.NoError(t, err)

	h := tree.New()
	stats, err := h.Maintain(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Events)
	assert.Equal(t, 2, stats.Admitted)
	assert.Equal(t, []tree.Entity{a, b, c}, h.AllInOrder())
}
