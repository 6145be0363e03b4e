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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/hierarchy/services/hierarchy/feedlog"
	"github.com/AleutianAI/hierarchy/services/hierarchy/tree"
)

// Handlers contains the HTTP handlers for the hierarchy service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleIngest handles POST /v1/hierarchy/events.
//
// Description:
//
//	Appends relation events to the durable feed log. The events take
//	effect in the derived tree on the next maintenance pass; the
//	response only acknowledges durability.
//
// Request Body:
//
//	IngestRequest
//
// Response:
//
//	202 Accepted: IngestResponse
//	400 Bad Request: Validation error
//	500 Internal Server Error: Feed log write failure
func (h *Handlers) HandleIngest(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleIngest")

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	events := make([]tree.RelationEvent, 0, len(req.Events))
	for i, in := range req.Events {
		ev, err := parseEvent(in)
		if err != nil {
			logger.Warn("Invalid event", "index", i, "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_EVENT",
			})
			return
		}
		events = append(events, ev)
	}

	lastSeq, err := h.svc.Ingest(c.Request.Context(), events)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "INGEST_FAILED"
		if errors.Is(err, feedlog.ErrLogClosed) {
			statusCode = http.StatusServiceUnavailable
			errCode = "LOG_CLOSED"
		}

		logger.Error("Ingest failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Debug("Events ingested", "count", len(events), "last_seq", lastSeq)
	c.JSON(http.StatusAccepted, IngestResponse{
		Accepted: len(events),
		LastSeq:  lastSeq,
	})
}

// HandleOrder handles GET /v1/hierarchy/order.
//
// Response:
//
//	200 OK: OrderResponse - full traversal order, parents before children
func (h *Handlers) HandleOrder(c *gin.Context) {
	order := h.svc.Tree().AllInOrder()

	entities := make([]string, len(order))
	for i, e := range order {
		entities[i] = e.String()
	}

	c.JSON(http.StatusOK, OrderResponse{
		Entities: entities,
		Count:    len(entities),
	})
}

// HandleEntity handles GET /v1/hierarchy/entities/:id.
//
// Description:
//
//	Returns the entity's admission state, membership, current parent,
//	and children. Entities absent from the tree still answer with
//	admitted=false rather than 404, so pollers can distinguish "not
//	yet admitted" without error handling.
//
// Response:
//
//	200 OK: EntityResponse
//	400 Bad Request: Malformed entity ID
func (h *Handlers) HandleEntity(c *gin.Context) {
	entity, err := parseEntity(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_ENTITY",
		})
		return
	}

	t := h.svc.Tree()
	resp := EntityResponse{
		Entity:   entity.String(),
		Admitted: t.Has(entity),
		Member:   t.Member(entity),
		Children: []string{},
	}
	if parent, ok := t.Parent(entity); ok {
		resp.Parent = parent.String()
	}
	for _, child := range t.Children(entity) {
		resp.Children = append(resp.Children, child.String())
	}

	c.JSON(http.StatusOK, resp)
}

// HandleKill handles DELETE /v1/hierarchy/entities/:id.
//
// Description:
//
//	Marks the entity dead. The next maintenance pass revokes its
//	admission and cascades the revocation through its admitted
//	descendants.
//
// Response:
//
//	200 OK: KillResponse
//	400 Bad Request: Malformed entity ID
func (h *Handlers) HandleKill(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleKill")

	entity, err := parseEntity(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_ENTITY",
		})
		return
	}

	killed := h.svc.KillEntity(entity)
	if killed {
		logger.Info("Entity marked dead", "entity", entity.String())
	}

	c.JSON(http.StatusOK, KillResponse{
		Entity:      entity.String(),
		AlreadyDead: !killed,
	})
}

// HandleMaintain handles POST /v1/hierarchy/maintain.
//
// Description:
//
//	Runs one maintenance pass immediately instead of waiting for the
//	next scheduler tick. Shares the scheduler's rate limit.
//
// Response:
//
//	200 OK: PassResponse
//	429 Too Many Requests: Rate limit exceeded
//	500 Internal Server Error: Pass failure
func (h *Handlers) HandleMaintain(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleMaintain")

	stats, err := h.svc.MaintainNow(c.Request.Context())
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "MAINTAIN_FAILED"
		if errors.Is(err, ErrPassRateLimited) {
			statusCode = http.StatusTooManyRequests
			errCode = "RATE_LIMITED"
		}

		logger.Warn("Maintenance pass not run", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	c.JSON(http.StatusOK, newPassResponse(stats))
}

// HandleStats handles GET /v1/hierarchy/stats.
//
// Response:
//
//	200 OK: StatsResponse
func (h *Handlers) HandleStats(c *gin.Context) {
	t := h.svc.Tree()
	lastPass, passes := h.svc.LastPass()
	feed := h.svc.FeedStats()

	c.JSON(http.StatusOK, StatsResponse{
		Members:     t.MemberCount(),
		Admitted:    t.AdmittedCount(),
		Dead:        h.svc.dead.Count(),
		Passes:      passes,
		LastPass:    newPassResponse(lastPass),
		FeedLastSeq: feed.LastSeq,
		FeedTrimmed: feed.TruncatedThrough,
		FeedCorrupt: feed.CorruptedCount,
	})
}

// HandleHealth handles GET /v1/hierarchy/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": ServiceVersion,
	})
}

// HandleReady handles GET /v1/hierarchy/ready.
//
// The service is ready once the feed log has been replayed at least
// once, so queries reflect recovered state.
func (h *Handlers) HandleReady(c *gin.Context) {
	_, passes := h.svc.LastPass()
	if passes == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "feed log not yet replayed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// getOrCreateRequestID returns the request's X-Request-ID header,
// minting one when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
