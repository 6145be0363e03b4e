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
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/hierarchy/pkg/telemetry"
)

// RegisterRoutes registers all hierarchy routes with the router.
//
// Description:
//
//	Registers all /v1/hierarchy/* endpoints with the given Gin router
//	group. The router group should already have any required
//	middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/hierarchy/events - Ingest relation events
//	POST /v1/hierarchy/maintain - Run a maintenance pass now
//	GET  /v1/hierarchy/order - Full traversal order
//	GET  /v1/hierarchy/entities/:id - Entity admission, parent, children
//	DELETE /v1/hierarchy/entities/:id - Mark an entity dead
//	GET  /v1/hierarchy/stats - Tree, pass, and feed log statistics
//	GET  /v1/hierarchy/watch - Websocket change event stream
//	GET  /v1/hierarchy/health - Health check
//	GET  /v1/hierarchy/ready - Readiness check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	h := rg.Group("/hierarchy")
	{
		// Feed ingest and maintenance
		h.POST("/events", handlers.HandleIngest)
		h.POST("/maintain", handlers.HandleMaintain)

		// Tree queries
		h.GET("/order", handlers.HandleOrder)
		h.GET("/entities/:id", handlers.HandleEntity)
		h.DELETE("/entities/:id", handlers.HandleKill)
		h.GET("/stats", handlers.HandleStats)

		// Change event stream
		h.GET("/watch", handlers.HandleWatch)

		// Health checks
		h.GET("/health", handlers.HandleHealth)
		h.GET("/ready", handlers.HandleReady)
	}
}

// Router builds the service's HTTP router.
//
// The /metrics endpoint is mounted when telemetry.Init configured the
// Prometheus exporter.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("hierarchy-service"))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(s))

	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	return router
}
