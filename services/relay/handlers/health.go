// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/tidewater/services/relay/observability"
	"github.com/gin-gonic/gin"
)

// maxHealthBodyBytes caps how much of the upstream health payload the
// relay will reflect. Health responses are small; anything larger is
// misbehavior and gets truncated.
const maxHealthBodyBytes = 64 * 1024

// HealthHandler reports whether the relay can reach its upstream.
//
// # Description
//
// The relay itself has no meaningful standalone health: it is healthy
// exactly when the QA backend answers. The handler proxies the
// upstream's own health endpoint within a bounded timeout and annotates
// the result with the observed round-trip latency.
type HealthHandler interface {
	// HandleHealth processes GET /health requests.
	HandleHealth(c *gin.Context)
}

// healthHandler implements HealthHandler.
type healthHandler struct {
	upstreamURL string
	client      *http.Client
}

// NewHealthHandler creates a HealthHandler probing the given upstream.
//
// # Inputs
//
//   - upstreamURL: Base URL of the QA backend. Must not be empty.
//   - timeout: Upper bound on the upstream probe, including body read.
//     Must be positive; config validates this at startup.
func NewHealthHandler(upstreamURL string, timeout time.Duration) HealthHandler {
	if upstreamURL == "" {
		panic("NewHealthHandler: upstreamURL must not be empty")
	}
	if timeout <= 0 {
		panic("NewHealthHandler: timeout must be positive")
	}

	return &healthHandler{
		upstreamURL: upstreamURL,
		client:      &http.Client{Timeout: timeout},
	}
}

// HandleHealth processes GET /health requests.
//
// # Outputs
//
// When the upstream answers: the upstream's status code, its JSON body
// (or the raw body under "upstream" if it is not JSON), plus
// "latency_ms". When the probe fails or times out: 502 with
// {"status": "error", ...}.
func (h *healthHandler) HandleHealth(c *gin.Context) {
	endpoint := observability.EndpointHealth
	start := time.Now()

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, h.upstreamURL+"/health", nil)
	if err != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, false)
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to build upstream probe"})
		return
	}

	resp, err := h.client.Do(req)
	latencyMS := time.Since(start).Milliseconds()
	if err != nil {
		slog.Warn("Upstream health probe failed", "error", err, "latencyMs", latencyMS)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, false)
			m.RecordError(endpoint, observability.ErrorCodeUpstreamUnreachable)
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"status":     "error",
			"error":      "upstream health check failed",
			"latency_ms": latencyMS,
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBodyBytes))
	if err != nil {
		slog.Warn("Failed to read upstream health body", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, false)
			m.RecordError(endpoint, observability.ErrorCodeUpstreamError)
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"status":     "error",
			"error":      "upstream health body unreadable",
			"latency_ms": latencyMS,
		})
		return
	}

	healthy := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, healthy)
	}

	var upstream map[string]any
	if jsonErr := json.Unmarshal(body, &upstream); jsonErr == nil {
		upstream["latency_ms"] = latencyMS
		c.JSON(resp.StatusCode, upstream)
		return
	}

	c.JSON(resp.StatusCode, gin.H{
		"upstream":   string(body),
		"latency_ms": latencyMS,
	})
}

// Compile-time interface check
var _ HealthHandler = (*healthHandler)(nil)
