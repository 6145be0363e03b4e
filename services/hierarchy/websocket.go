// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hierarchy

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/hierarchy/services/hierarchy/tree"
)

const (
	// watchSendBuffer is the per-client outbound queue. A client that
	// falls this far behind starts losing events and is told so.
	watchSendBuffer = 256

	watchWriteTimeout = 10 * time.Second
	watchPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local development; tighten for production deployments.
		return true
	},
}

// HandleWatch handles GET /v1/hierarchy/watch.
//
// Description:
//
//	Upgrades to a websocket and streams net-effect change events
//	(added, modified, removed) as they are published by maintenance
//	passes. Each client gets its own subscription; a slow client
//	drops events rather than stalling the publisher, and receives a
//	{"kind":"overrun"} marker when that happens.
//
// Response:
//
//	101 Switching Protocols, then a stream of ChangeMessage frames.
func (h *Handlers) HandleWatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleWatch")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	t := h.svc.Tree()
	outbound := make(chan ChangeMessage, watchSendBuffer)
	overrun := make(chan struct{}, 1)

	// The handler runs inside Publish under the pass lock: it must not
	// call back into the tree, only hand off to the writer loop.
	subID := t.Events().Subscribe(func(ev tree.Event) {
		msg := ChangeMessage{
			Kind:   ev.Kind.String(),
			Entity: ev.Entity.String(),
		}
		if ev.Kind != tree.ChangeRemoved {
			msg.Parent = ev.Parent.String()
		}

		select {
		case outbound <- msg:
		default:
			// Client too slow; flag the gap without blocking Publish.
			select {
			case overrun <- struct{}{}:
			default:
			}
		}
	})
	defer t.Events().Unsubscribe(subID)

	logger.Info("Watch client connected", "remote", conn.RemoteAddr().String())

	// Read pump: we expect no client frames, but reading is required to
	// observe close frames and connection drops.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			logger.Debug("Watch client disconnected")
			return

		case <-c.Request.Context().Done():
			return

		case msg := <-outbound:
			if err := writeJSON(conn, msg); err != nil {
				logger.Debug("Watch write failed", "error", err)
				return
			}

		case <-overrun:
			if err := writeJSON(conn, ChangeMessage{Kind: "overrun"}); err != nil {
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("Watch ping failed", "error", err)
				return
			}
		}
	}
}

// writeJSON writes one JSON frame with the standard write deadline.
func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	return conn.WriteJSON(v)
}
