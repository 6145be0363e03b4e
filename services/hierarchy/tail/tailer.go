// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tail ingests relation events from a JSONL file.
//
// External producers that cannot speak the HTTP ingest API can append
// one JSON-encoded relation event per line to a file; the tailer picks
// up appended lines as they are written and hands them to the service
// in batches. Sequence numbers in the file are ignored; the feed log
// assigns them on append.
package tail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/hierarchy/services/hierarchy/tree"
)

// BatchHandler is called with decoded events after each debounced read.
type BatchHandler func(events []tree.RelationEvent)

// Options configures the Tailer.
type Options struct {
	// DebounceWindow is how long to wait for more writes before reading.
	// Default: 100ms.
	DebounceWindow time.Duration

	// FromStart reads the whole existing file on Start instead of
	// tailing only new content.
	FromStart bool

	// Logger receives decode and I/O diagnostics.
	// Default: slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 100 * time.Millisecond,
		FromStart:      false,
	}
}

// Tailer follows a JSONL relation-event file.
//
// # Description
//
// Watches the file's directory via fsnotify and reads newly appended
// lines after a debounce window, so a burst of producer writes turns
// into one read. A partial trailing line stays unread until its
// newline arrives. When the file shrinks or is recreated, the tailer
// restarts from offset zero.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single
// goroutine.
type Tailer struct {
	path     string
	handler  BatchHandler
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	wakeups chan struct{}
	done    chan struct{}

	stopOnce sync.Once

	mu      sync.Mutex
	offset  int64
	running bool
}

// New creates a tailer for the given file.
//
// # Inputs
//
//   - path: The JSONL file to follow. May not exist yet.
//   - handler: Called with each batch of decoded events.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *Tailer: Ready-to-use tailer (call Start to begin).
//   - error: Non-nil if the handler is nil or the watcher could not
//     be created.
func New(path string, handler BatchHandler, opts *Options) (*Tailer, error) {
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Tailer{
		path:     filepath.Clean(path),
		handler:  handler,
		debounce: opts.DebounceWindow,
		logger:   opts.Logger.With(slog.String("component", "tail")),
		watcher:  watcher,
		wakeups:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		offset:   offsetFor(path, opts.FromStart),
	}, nil
}

// offsetFor returns the starting offset: end of file unless reading
// from the start, zero when the file does not exist.
func offsetFor(path string, fromStart bool) int64 {
	if fromStart {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Start begins following the file.
//
// # Description
//
// Watches the file's parent directory (so create and rename of the
// file itself are seen) and spawns the event and debounce goroutines.
// Both exit when Stop is called or the context is cancelled.
func (t *Tailer) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.mu.Unlock()

	if err := t.watcher.Add(filepath.Dir(t.path)); err != nil {
		return err
	}

	go t.processEvents(ctx)
	go t.debounceLoop(ctx)
	return nil
}

// Stop stops the tailer. Safe to call multiple times.
func (t *Tailer) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.watcher.Close()

		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	})
}

// Running returns true while the tailer is active.
func (t *Tailer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// processEvents filters fsnotify events down to wakeup signals for the
// debouncer.
func (t *Tailer) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				// The file was replaced; restart from the top.
				t.mu.Lock()
				t.offset = 0
				t.mu.Unlock()
			}
			select {
			case t.wakeups <- struct{}{}:
			default:
				// A wakeup is already pending.
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("tail watcher error", slog.String("error", err.Error()))
		}
	}
}

// debounceLoop coalesces wakeups and drains the file after the window
// expires.
func (t *Tailer) debounceLoop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			t.drain()
			return
		case <-t.done:
			t.drain()
			return
		case <-t.wakeups:
			if timer == nil {
				timer = time.NewTimer(t.debounce)
				timerC = timer.C
			} else {
				timer.Reset(t.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			t.drain()
		}
	}
}

// drain reads complete lines past the current offset and hands the
// decoded events to the handler.
func (t *Tailer) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("open tailed file failed", slog.String("error", err.Error()))
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		// Truncated underneath us.
		t.logger.Info("tailed file truncated, restarting from start",
			slog.String("path", t.path))
		t.offset = 0
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.logger.Warn("read tailed file failed", slog.String("error", err.Error()))
		return
	}

	consumed, events := decodeLines(data, t.logger)
	t.offset += int64(consumed)

	if len(events) > 0 {
		t.handler(events)
	}
}

// decodeLines decodes complete newline-terminated JSON lines from data.
//
// Returns the number of bytes consumed (through the last newline) and
// the decoded events. Malformed lines are logged and skipped but still
// count as consumed.
func decodeLines(data []byte, logger *slog.Logger) (int, []tree.RelationEvent) {
	var events []tree.RelationEvent
	consumed := 0

	for {
		nl := bytes.IndexByte(data[consumed:], '\n')
		if nl < 0 {
			break
		}
		line := bytes.TrimSpace(data[consumed : consumed+nl])
		consumed += nl + 1

		if len(line) == 0 {
			continue
		}

		var ev tree.RelationEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("skipping malformed feed line",
				slog.String("error", err.Error()))
			continue
		}
		ev.Seq = 0 // the feed log assigns sequence numbers
		events = append(events, ev)
	}
	return consumed, events
}

