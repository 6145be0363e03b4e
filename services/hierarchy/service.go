// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hierarchy is the service surface over the derived tree.
//
// The service owns the durable feed log, the in-memory tree, and the
// maintenance scheduler. Producers push relation events over HTTP or a
// tailed JSONL file; the scheduler runs maintenance passes that fold
// the new events into the tree; consumers query the tree over HTTP or
// stream net-effect change events over a websocket.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/hierarchy/services/hierarchy/feedlog"
	"github.com/AleutianAI/hierarchy/services/hierarchy/tail"
	"github.com/AleutianAI/hierarchy/services/hierarchy/tree"
)

// ErrPassRateLimited indicates the combined pass budget was exhausted.
var ErrPassRateLimited = errors.New("maintenance pass rate limit exceeded")

// deadSet is the service's entity registry.
//
// The service has no upstream identity system, so liveness is defined
// negatively: every entity is alive until reported dead through the
// kill endpoint. The maintenance pass sweeps dead entities out of the
// tree; entries are kept so a re-inserted edge for a dead entity stays
// rejected.
type deadSet struct {
	mu   sync.RWMutex
	dead map[tree.Entity]struct{}
}

func newDeadSet() *deadSet {
	return &deadSet{dead: make(map[tree.Entity]struct{})}
}

// Alive implements tree.Liveness.
func (d *deadSet) Alive(e tree.Entity) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, dead := d.dead[e]
	return !dead
}

// Kill marks an entity dead. Returns false if it already was.
func (d *deadSet) Kill(e tree.Entity) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dead := d.dead[e]; dead {
		return false
	}
	d.dead[e] = struct{}{}
	return true
}

// Count returns the number of dead entities recorded.
func (d *deadSet) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.dead)
}

// Service wires the feed log, the tree, and the scheduler together.
//
// Lifecycle:
//
//  1. Create with NewService (opens the feed log)
//  2. Run(ctx) blocks until ctx is cancelled or a component fails
//  3. Close() releases the feed log
//
// Thread Safety: safe for concurrent use; the tree serializes passes
// internally and queries are read-locked.
type Service struct {
	cfg    Config
	logger *slog.Logger

	tree   *tree.Hierarchy
	log    *feedlog.Log
	dead   *deadSet
	tailer *tail.Tailer

	limiter *rate.Limiter

	statsMu  sync.RWMutex
	lastPass tree.PassStats
	passes   uint64
}

// NewService creates the service and opens its feed log.
//
// Inputs:
//
//	cfg - Service configuration. Must pass Validate().
//	logger - Structured logger. Must not be nil.
//
// Outputs:
//
//	*Service - Ready to Run. Call Close() when done.
//	error - Non-nil if the config is invalid or the feed log cannot
//	        be opened.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}

	log, err := feedlog.Open(feedlog.Config{
		Path:       cfg.Feed.Path,
		InMemory:   cfg.Feed.InMemory,
		SyncWrites: cfg.Feed.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open feed log: %w", err)
	}

	dead := newDeadSet()
	s := &Service{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "hierarchy")),
		log:    log,
		dead:   dead,
		tree: tree.New(
			tree.WithLiveness(dead),
			tree.WithEventBuffer(cfg.Maintain.EventBuffer),
			tree.WithLogger(logger),
		),
		limiter: rate.NewLimiter(rate.Limit(cfg.Maintain.MaxPassesPerSecond), cfg.Maintain.Burst),
	}

	if cfg.Feed.TailPath != "" {
		tailer, err := tail.New(cfg.Feed.TailPath, s.ingestTailBatch, &tail.Options{
			DebounceWindow: 100 * time.Millisecond,
			FromStart:      cfg.Feed.TailFromStart,
			Logger:         logger,
		})
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("create tailer: %w", err)
		}
		s.tailer = tailer
	}

	return s, nil
}

// Tree returns the derived tree for queries and event readers.
func (s *Service) Tree() *tree.Hierarchy {
	return s.tree
}

// Ingest appends relation events to the feed log.
//
// The events become visible in the tree after the next maintenance
// pass. Returns the sequence number assigned to the last event.
func (s *Service) Ingest(ctx context.Context, events []tree.RelationEvent) (uint64, error) {
	return s.log.AppendBatch(ctx, events)
}

// KillEntity reports an entity dead. Its admissions (and those of its
// admitted descendants) are revoked on the next maintenance pass.
// Returns false if the entity was already dead.
func (s *Service) KillEntity(e tree.Entity) bool {
	return s.dead.Kill(e)
}

// MaintainNow runs one maintenance pass immediately, subject to the
// pass rate limit.
//
// Outputs:
//
//	tree.PassStats - Summary of the pass.
//	error - The pass error, or a rate-limit error when the limiter
//	        rejects the pass.
func (s *Service) MaintainNow(ctx context.Context) (tree.PassStats, error) {
	if !s.limiter.Allow() {
		return tree.PassStats{}, ErrPassRateLimited
	}
	return s.maintain(ctx)
}

// maintain runs one pass and records its stats.
func (s *Service) maintain(ctx context.Context) (tree.PassStats, error) {
	stats, err := s.tree.Maintain(ctx, s.log)
	if err != nil {
		s.logger.Error("maintenance pass failed", slog.String("error", err.Error()))
		return stats, err
	}

	s.statsMu.Lock()
	s.lastPass = stats
	s.passes++
	s.statsMu.Unlock()

	if stats.Events > 0 || stats.Published > 0 {
		s.logger.Debug("maintenance pass completed",
			slog.Int("events", stats.Events),
			slog.Int("published", stats.Published),
			slog.Int("order_len", stats.OrderLen),
			slog.Uint64("cursor", stats.Cursor))
	}
	return stats, nil
}

// LastPass returns the stats of the most recent successful pass and
// the total number of passes run.
func (s *Service) LastPass() (tree.PassStats, uint64) {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.lastPass, s.passes
}

// FeedStats returns feed log statistics.
func (s *Service) FeedStats() feedlog.Stats {
	return s.log.Stats()
}

// ingestTailBatch is the tailer handler: tailed lines go through the
// same feed log as the HTTP ingest path.
func (s *Service) ingestTailBatch(events []tree.RelationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.Ingest(ctx, events); err != nil {
		s.logger.Error("tail ingest failed",
			slog.Int("events", len(events)),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("tail batch ingested", slog.Int("events", len(events)))
}

// Run starts the HTTP server, the maintenance scheduler, and the
// optional tailer, and blocks until the context is cancelled or one of
// them fails.
//
// Description:
//
//	On startup, one immediate pass replays the feed log so queries
//	see the recovered tree before the first scheduling tick. Shutdown
//	is graceful: the HTTP server drains for up to 10 seconds.
func (s *Service) Run(ctx context.Context) error {
	// Recover state before serving.
	if _, err := s.maintain(ctx); err != nil {
		return fmt.Errorf("replay feed log: %w", err)
	}
	s.logger.Info("hierarchy recovered",
		slog.Int("members", s.tree.MemberCount()),
		slog.Uint64("cursor", s.tree.Cursor()))

	g, ctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		s.logger.Info("http server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return s.runScheduler(ctx)
	})

	if s.tailer != nil {
		if err := s.tailer.Start(ctx); err != nil {
			return fmt.Errorf("start tailer: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			s.tailer.Stop()
			return nil
		})
	}

	return g.Wait()
}

// runScheduler drives periodic maintenance passes.
//
// Each tick attempts one pass; the rate limiter holds the ticker and
// the on-demand endpoint to the same combined budget. Pass errors are
// logged, not fatal: a broken feed read leaves the tree at its last
// good state and the next tick retries.
func (s *Service) runScheduler(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Maintain.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.limiter.Allow() {
				continue
			}
			// Errors already logged inside maintain.
			_, _ = s.maintain(ctx)
		}
	}
}

// Close releases the feed log. Call after Run returns.
func (s *Service) Close() error {
	return s.log.Close()
}
