// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedlog provides the durable relation-event log.
//
// The log is a write-ahead log over BadgerDB: producers append relation
// events synchronously with CRC checksums, the hierarchy consumes them
// through the tree.FeedReader interface, and on restart the tree is
// reconstructed by reading the log from sequence zero.
package feedlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/hierarchy/services/hierarchy/storage/badger"
	"github.com/AleutianAI/hierarchy/services/hierarchy/tree"
	dgbadger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrLogClosed is returned when operations are called on a closed log.
	ErrLogClosed = errors.New("feed log is closed")

	// ErrCorruptedEntry is returned when an entry fails its CRC check.
	ErrCorruptedEntry = errors.New("feed log entry corrupted (CRC mismatch)")

	// ErrSequenceGap is returned when a read detects a hole in the
	// sequence numbers past the truncation point.
	ErrSequenceGap = errors.New("feed log sequence gap detected")
)

// entryPrefix namespaces relation entries within the database.
var entryPrefix = []byte("rel:")

// Config configures the feed log.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory uses in-memory BadgerDB (for testing).
	InMemory bool

	// SyncWrites enables synchronous writes.
	// MUST be true for WAL correctness in production. Default: true.
	SyncWrites bool

	// SkipCorrupted continues reads past corrupted entries instead of
	// failing. Skipped entries are logged and counted.
	// Default: false (fail fast).
	SkipCorrupted bool

	// Logger for log operations. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SyncWrites:    true,
		SkipCorrupted: false,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("path is required for persistent feed log")
	}
	return nil
}

// Stats contains feed log metrics.
type Stats struct {
	// LastSeq is the most recent sequence number assigned.
	LastSeq uint64

	// TruncatedThrough is the highest sequence number removed by
	// Checkpoint. Zero if the log has never been truncated.
	TruncatedThrough uint64

	// CorruptedCount is the number of corrupted entries encountered
	// during reads.
	CorruptedCount int64
}

// Log is the durable relation-event log.
//
// Description:
//
//	Appends tree.RelationEvent values to BadgerDB under sequence-keyed
//	entries with CRC32 checksums. ReadSince implements tree.FeedReader
//	so a tree.Hierarchy can consume the log directly.
//
// Key format: "rel:" + 8-byte big-endian sequence number, so BadgerDB's
// lexicographic key order is the sequence order.
// Value format: [4-byte CRC32][gob-encoded tree.RelationEvent]
//
// Thread Safety: Safe for concurrent use.
type Log struct {
	db     *badger.DB
	config Config
	logger *slog.Logger

	seq       atomic.Uint64
	truncated atomic.Uint64
	corrupted atomic.Int64
	closed    atomic.Bool
}

// Open opens the feed log at the configured path.
//
// Description:
//
//	Opens the backing BadgerDB and initializes the sequence counter
//	from the highest existing entry, so appends after a restart
//	continue the sequence instead of restarting it.
//
// Inputs:
//
//	cfg - Log configuration. Must pass Validate().
//
// Outputs:
//
//	*Log - Ready-to-use log.
//	error - Non-nil if the configuration is invalid or the database
//	        cannot be opened.
func Open(cfg Config) (*Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := badger.Open(badger.Config{
		Path:           cfg.Path,
		InMemory:       cfg.InMemory,
		SyncWrites:     cfg.SyncWrites,
		GCInterval:     0,
		GCDiscardRatio: 0.5,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	l := &Log{
		db:     db,
		config: cfg,
		logger: cfg.Logger.With(slog.String("component", "feedlog")),
	}

	if err := l.initSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sequence number: %w", err)
	}

	l.logger.Info("feed log opened",
		slog.String("path", cfg.Path),
		slog.Bool("sync_writes", cfg.SyncWrites),
		slog.Uint64("last_seq", l.seq.Load()))

	return l, nil
}

// initSeq scans for the highest existing sequence number.
func (l *Log) initSeq() error {
	return l.db.WithReadTxn(context.Background(), func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, entryPrefix...),
			0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seekKey)

		if it.ValidForPrefix(entryPrefix) {
			if seq, ok := parseKey(it.Item().Key()); ok {
				l.seq.Store(seq)
			}
		}
		return nil
	})
}

// entryKey builds the key for a sequence number.
func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}

// parseKey extracts the sequence number from an entry key.
func parseKey(key []byte) (uint64, bool) {
	if len(key) != len(entryPrefix)+8 || !bytes.HasPrefix(key, entryPrefix) {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(entryPrefix):]), true
}

// encodeEntry encodes an event with a CRC32 checksum prefix.
func encodeEntry(ev tree.RelationEvent) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ev); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	crc := crc32.ChecksumIEEE(buf.Bytes())
	out := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(out[:4], crc)
	copy(out[4:], buf.Bytes())
	return out, nil
}

// decodeEntry validates the checksum and decodes an event.
func decodeEntry(data []byte) (tree.RelationEvent, error) {
	if len(data) < 5 {
		return tree.RelationEvent{}, fmt.Errorf("%w: entry too short", ErrCorruptedEntry)
	}

	storedCRC := binary.BigEndian.Uint32(data[:4])
	payload := data[4:]
	if computed := crc32.ChecksumIEEE(payload); computed != storedCRC {
		return tree.RelationEvent{}, fmt.Errorf("%w: stored=%08x computed=%08x",
			ErrCorruptedEntry, storedCRC, computed)
	}

	var ev tree.RelationEvent
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&ev); err != nil {
		return tree.RelationEvent{}, fmt.Errorf("gob decode: %w", err)
	}
	return ev, nil
}

// Append writes one event, assigning the next sequence number.
//
// Description:
//
//	The Seq field of the input is ignored; the log assigns it.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	ev - The relation event to persist.
//
// Outputs:
//
//	uint64 - The assigned sequence number.
//	error - Non-nil if the log is closed or the write fails.
//
// Performance: one synchronous BadgerDB write per call; use
// AppendBatch for bulk ingest.
func (l *Log) Append(ctx context.Context, ev tree.RelationEvent) (uint64, error) {
	seq, err := l.AppendBatch(ctx, []tree.RelationEvent{ev})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// AppendBatch writes events atomically in a single transaction.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	events - Events to persist. Must not be empty.
//
// Outputs:
//
//	uint64 - The sequence number assigned to the LAST event.
//	error - Non-nil if the write fails; no event is persisted.
func (l *Log) AppendBatch(ctx context.Context, events []tree.RelationEvent) (uint64, error) {
	if len(events) == 0 {
		return 0, errors.New("events must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if l.closed.Load() {
		return 0, ErrLogClosed
	}

	ctx, span := otel.Tracer("aleutian.hierarchy.feedlog").Start(ctx, "feedlog.AppendBatch",
		trace.WithAttributes(attribute.Int("batch_size", len(events))),
	)
	defer span.End()

	// Reserve the sequence range atomically.
	lastSeq := l.seq.Add(uint64(len(events)))
	firstSeq := lastSeq - uint64(len(events)) + 1

	type encoded struct {
		key  []byte
		data []byte
	}
	entries := make([]encoded, 0, len(events))
	for i, ev := range events {
		ev.Seq = firstSeq + uint64(i)
		data, err := encodeEntry(ev)
		if err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("encode event %d: %w", i, err)
		}
		entries = append(entries, encoded{key: entryKey(ev.Seq), data: data})
	}

	err := l.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		for _, e := range entries {
			if err := txn.Set(e.key, e.data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return 0, fmt.Errorf("write batch: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("first_seq", int64(firstSeq)),
		attribute.Int64("last_seq", int64(lastSeq)),
	)

	l.logger.Debug("events appended",
		slog.Int("count", len(events)),
		slog.Uint64("first_seq", firstSeq),
		slog.Uint64("last_seq", lastSeq))

	return lastSeq, nil
}

// ReadSince returns all events with Seq > cursor, in sequence order.
//
// Description:
//
//	Implements tree.FeedReader. Entries are CRC-validated; a gap in
//	the sequence past the truncation point is an error unless
//	SkipCorrupted is set, in which case it is logged and tolerated.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	cursor - Exclusive lower bound; pass 0 for the full log.
//
// Outputs:
//
//	[]tree.RelationEvent - Events in sequence order. Empty if none.
//	error - ErrLogClosed, ErrCorruptedEntry, ErrSequenceGap, or a
//	        database error.
func (l *Log) ReadSince(ctx context.Context, cursor uint64) ([]tree.RelationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.closed.Load() {
		return nil, ErrLogClosed
	}

	ctx, span := otel.Tracer("aleutian.hierarchy.feedlog").Start(ctx, "feedlog.ReadSince",
		trace.WithAttributes(attribute.Int64("cursor", int64(cursor))),
	)
	defer span.End()

	var events []tree.RelationEvent
	var lastSeq uint64

	err := l.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(entryKey(cursor + 1)); it.ValidForPrefix(entryPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			seq, ok := parseKey(item.Key())
			if !ok {
				continue
			}

			if lastSeq > 0 && seq != lastSeq+1 {
				if !l.config.SkipCorrupted {
					return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, lastSeq+1, seq)
				}
				l.logger.Warn("feed log sequence gap",
					slog.Uint64("expected", lastSeq+1),
					slog.Uint64("got", seq))
			}
			lastSeq = seq

			err := item.Value(func(val []byte) error {
				ev, err := decodeEntry(val)
				if err != nil {
					if errors.Is(err, ErrCorruptedEntry) {
						l.corrupted.Add(1)
						if l.config.SkipCorrupted {
							l.logger.Warn("skipping corrupted feed log entry",
								slog.Uint64("seq", seq),
								slog.String("error", err.Error()))
							return nil
						}
					}
					return err
				}
				events = append(events, ev)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("event_count", len(events)))
	return events, nil
}

// Checkpoint removes entries with Seq <= upTo.
//
// Description:
//
//	Truncates the log prefix. Call only after every consumer holds a
//	cursor at or past upTo and any rebuild path no longer needs the
//	truncated prefix (e.g. after a state snapshot).
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	upTo - Inclusive upper bound of the truncation.
//
// Outputs:
//
//	error - Non-nil if the deletion transaction fails.
func (l *Log) Checkpoint(ctx context.Context, upTo uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closed.Load() {
		return ErrLogClosed
	}

	ctx, span := otel.Tracer("aleutian.hierarchy.feedlog").Start(ctx, "feedlog.Checkpoint",
		trace.WithAttributes(attribute.Int64("up_to", int64(upTo))),
	)
	defer span.End()

	deleted := 0
	err := l.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			seq, ok := parseKey(it.Item().Key())
			if !ok || seq > upTo {
				continue
			}
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "truncation failed")
		return fmt.Errorf("truncate feed log: %w", err)
	}

	if upTo > l.truncated.Load() {
		l.truncated.Store(upTo)
	}

	span.SetAttributes(attribute.Int("deleted_entries", deleted))
	l.logger.Info("feed log truncated",
		slog.Uint64("up_to", upTo),
		slog.Int("deleted", deleted))
	return nil
}

// LastSeq returns the most recent sequence number assigned.
func (l *Log) LastSeq() uint64 {
	return l.seq.Load()
}

// Stats returns feed log statistics.
func (l *Log) Stats() Stats {
	return Stats{
		LastSeq:          l.seq.Load(),
		TruncatedThrough: l.truncated.Load(),
		CorruptedCount:   l.corrupted.Load(),
	}
}

// Sync flushes pending writes to disk.
func (l *Log) Sync() error {
	if l.closed.Load() {
		return ErrLogClosed
	}
	return l.db.Sync()
}

// Close syncs and releases resources. Safe to call multiple times.
func (l *Log) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.logger.Info("closing feed log")
	if err := l.db.Sync(); err != nil {
		l.logger.Warn("sync before close failed", slog.String("error", err.Error()))
	}
	return l.db.Close()
}

var _ tree.FeedReader = (*Log)(nil)
