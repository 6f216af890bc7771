// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/tidewater/services/relay/config"
	"github.com/AleutianAI/tidewater/services/relay/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers every public endpoint of the relay.
//
// # Inputs
//
//   - router: Gin engine to register on. Middleware (tracing, recovery)
//     is expected to be attached by the caller before this runs.
//   - cfg: Validated relay configuration. The status bridge is mounted
//     at cfg.BrokerPublicPath so deployments can move the public surface
//     without touching the internal broker.
func SetupRoutes(router *gin.Engine, cfg *config.Config) {
	healthHandler := handlers.NewHealthHandler(cfg.UpstreamAPIURL, cfg.HealthTimeout)
	askHandler := handlers.NewAskStreamHandler(cfg.UpstreamAPIURL)
	bridgeHandler := handlers.NewBrokerBridgeHandler(cfg.BrokerInternalWSURL)

	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Status channel bridge. Mounted outside /v1: the path is part of the
	// deployment contract, not the API version surface.
	router.GET(cfg.BrokerPublicPath, bridgeHandler.HandleBridge)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/ask/stream", askHandler.HandleAskStream)
	}
}
