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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/tidewater/services/relay/datatypes"
	"github.com/AleutianAI/tidewater/services/relay/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// upstreamAskPath is the QA backend's streaming answer endpoint, appended
// to the configured upstream base URL.
const upstreamAskPath = "/ask/stream"

// relayChunkSize is the pump buffer size. One read, one write, one flush
// per iteration; the relay never reads ahead of what the client accepted.
const relayChunkSize = 32 * 1024

// AskStreamHandler defines the contract for relaying streamed answers.
//
// # Description
//
// AskStreamHandler accepts a client ask request, issues the corresponding
// upstream call with the same session header, and pumps the upstream
// response body to the client as it arrives. The relay never buffers the
// whole payload and never alters chunk boundaries; clients reassemble
// logical tokens themselves.
//
// # Failure Model
//
//   - Pre-stream (upstream call rejected): JSON error envelope, no bytes
//     of the stream have been sent, caller may retry.
//   - Mid-stream (upstream body errors after headers committed): the relay
//     terminates its output early. Clients must treat a truncated stream
//     as incomplete, not as "answer complete".
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// HTTP handlers are called concurrently by the Gin framework; each
// invocation owns its transport objects exclusively.
type AskStreamHandler interface {
	// HandleAskStream processes POST /v1/ask/stream requests.
	//
	// # Inputs
	//
	//   - c: Gin context containing the HTTP request. The X-Session-ID
	//     header is required and propagated upstream unchanged.
	//
	// # Outputs
	//
	// On success: status 200 with Content-Type text/event-stream and the
	// raw relayed upstream body. On pre-stream failure: the upstream
	// status (>=400) or 502 with a JSON {"error": ...} envelope.
	HandleAskStream(c *gin.Context)
}

// askStreamHandler implements AskStreamHandler for production use.
//
// # Fields
//
//   - upstreamURL: Base URL of the QA backend.
//   - client: HTTP client used for upstream calls. No overall timeout;
//     answer streams are long-lived and cancellation rides the request
//     context instead.
//   - tracer: OpenTelemetry tracer for distributed tracing.
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction; per-request
// state lives on the stack.
type askStreamHandler struct {
	upstreamURL string
	client      *http.Client
	tracer      trace.Tracer
}

// NewAskStreamHandler creates an AskStreamHandler targeting the given
// upstream base URL.
//
// # Inputs
//
//   - upstreamURL: Base URL of the QA backend. Must not be empty;
//     panics otherwise (programming error, config validates at startup).
//
// # Examples
//
//	handler := handlers.NewAskStreamHandler(cfg.UpstreamAPIURL)
//	router.POST("/v1/ask/stream", handler.HandleAskStream)
func NewAskStreamHandler(upstreamURL string) AskStreamHandler {
	if upstreamURL == "" {
		panic("NewAskStreamHandler: upstreamURL must not be empty")
	}

	return &askStreamHandler{
		upstreamURL: upstreamURL,
		// Timeout deliberately zero: the stream outlives any fixed bound.
		// Cancellation propagates through the request context.
		client: &http.Client{},
		tracer: otel.Tracer("tidewater.relay.handlers.ask_stream"),
	}
}

// HandleAskStream processes POST /v1/ask/stream requests.
//
// # Description
//
// The flow is:
//  1. Parse and validate the request body; require the session header.
//  2. Issue the upstream call with the same body and session header.
//  3. On non-success, reply with a JSON error envelope (pre-stream).
//  4. On success, declare the event-stream response and pump the upstream
//     body chunk-by-chunk, flushing after every write.
//  5. Close the client stream exactly when upstream signals end-of-stream.
//
// The upstream body is released on every exit path. If the client
// disconnects mid-stream the pump observes the canceled request context
// or a failed write and stops pulling upstream data.
func (h *askStreamHandler) HandleAskStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointAskStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAskStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 1: Session header. Both channels of an exchange join on this
	// value; a request without it cannot be correlated and is rejected.
	sessionID := c.GetHeader(datatypes.SessionIDHeader)
	if sessionID == "" {
		span.SetStatus(codes.Error, "missing session header")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "missing " + datatypes.SessionIDHeader + " header"})
		return
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	// Step 2: Parse request body
	var req datatypes.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse ask request", "error", err, "sessionId", sessionID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}

	// Step 3: Validate and fill defaults
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Ask request validation failed", "error", err, "sessionId", sessionID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request: validation failed"})
		return
	}
	req.EnsureDefaults()

	span.SetAttributes(
		attribute.String("request.mode", req.Mode),
		attribute.Int("request.similarity_n", req.SimilarityN),
	)

	// Step 4: Issue the upstream call
	resp, status, err := h.callUpstream(ctx, &req, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream call failed")
		slog.Error("Upstream ask call failed",
			"error", err,
			"sessionId", sessionID,
			"status", status,
		)
		if m := observability.DefaultMetrics; m != nil {
			if status >= http.StatusBadRequest {
				m.RecordError(endpoint, observability.ErrorCodeUpstreamError)
			} else {
				m.RecordError(endpoint, observability.ErrorCodeUpstreamUnreachable)
				status = http.StatusBadGateway
			}
		} else if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		c.JSON(status, datatypes.ErrorResponse{Error: "answer service unavailable"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// Step 5: Declare the stream. From here on the response is committed;
	// failures can only truncate, never report in-band.
	SetStreamHeaders(c.Writer)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		span.SetStatus(codes.Error, "streaming not supported")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	// Step 6: Pump
	relayed, firstByteTime, pumpErr := h.pump(ctx, resp.Body, c.Writer, flusher, endpoint)

	span.SetAttributes(attribute.Int64("stream.bytes_relayed", relayed))
	if !firstByteTime.IsZero() {
		ttfb := firstByteTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_byte_seconds", ttfb))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstByte(endpoint, ttfb)
		}
	}

	if pumpErr != nil {
		span.RecordError(pumpErr)
		if errors.Is(pumpErr, context.Canceled) || errors.Is(pumpErr, errClientGone) {
			// Client went away; upstream reader was released, nothing to send.
			span.SetStatus(codes.Error, "client disconnected")
			slog.Info("Client disconnected mid-stream",
				"sessionId", sessionID,
				"bytesRelayed", relayed,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			}
			return
		}
		// Upstream died mid-transfer. Headers are committed, so the only
		// signal left is early termination of the client stream.
		span.SetStatus(codes.Error, "upstream stream failed")
		slog.Warn("Upstream stream failed mid-transfer, truncating client stream",
			"error", pumpErr,
			"sessionId", sessionID,
			"bytesRelayed", relayed,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeUpstreamError)
		}
		return
	}

	success = true
	span.SetStatus(codes.Ok, "stream relayed successfully")
}

// callUpstream issues the upstream ask call carrying the session header.
//
// # Outputs
//
//   - *http.Response: Open response with a live body on success. The
//     caller owns it and must close the body.
//   - int: Upstream HTTP status, or 0 if the call never completed.
//   - error: Non-nil on network failure or a non-2xx status.
func (h *askStreamHandler) callUpstream(ctx context.Context, req *datatypes.AskRequest, sessionID string) (*http.Response, int, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.upstreamURL+upstreamAskPath, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(datatypes.SessionIDHeader, sessionID)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("execute upstream request: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Drain a little so the connection can be reused, then close.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		_ = resp.Body.Close()
		return nil, resp.StatusCode, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	return resp, resp.StatusCode, nil
}

// errClientGone marks a failed write to the client connection.
var errClientGone = errors.New("client connection lost")

// pump copies the upstream body to the client one chunk at a time.
//
// # Description
//
// A bounded loop: read one chunk, write it, flush, repeat. Write-side
// backpressure is natural — the next read does not happen until the
// previous write was accepted by the transport. Chunk boundaries are
// whatever the upstream produced; the pump never splits, merges, or
// inspects them.
//
// # Outputs
//
//   - int64: Bytes relayed before exit.
//   - time.Time: When the first byte was written (zero if none were).
//   - error: nil on upstream end-of-stream; errClientGone (or a context
//     error) when the client went away; otherwise the upstream read error.
func (h *askStreamHandler) pump(ctx context.Context, body io.Reader, w io.Writer, flusher http.Flusher, endpoint observability.Endpoint) (int64, time.Time, error) {
	buf := make([]byte, relayChunkSize)
	var relayed int64
	var firstByte time.Time

	for {
		select {
		case <-ctx.Done():
			return relayed, firstByte, ctx.Err()
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if firstByte.IsZero() {
				firstByte = time.Now()
			}
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return relayed, firstByte, fmt.Errorf("%w: %v", errClientGone, writeErr)
			}
			flusher.Flush()
			relayed += int64(n)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordBytesRelayed(endpoint, n)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return relayed, firstByte, nil
			}
			if ctx.Err() != nil {
				// Read failed because the request context was canceled.
				return relayed, firstByte, ctx.Err()
			}
			return relayed, firstByte, fmt.Errorf("read upstream chunk: %w", readErr)
		}
	}
}

// SetStreamHeaders configures HTTP response headers for the relayed stream.
//
// # Description
//
// Sets the headers the client contract requires:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Compile-time interface check
var _ AskStreamHandler = (*askStreamHandler)(nil)
