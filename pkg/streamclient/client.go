// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package streamclient consumes the relay from the client side: it posts
// ask requests, delivers answer chunks as they arrive, and subscribes to
// the bridged status feed.
package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AleutianAI/tidewater/pkg/logging"
	"github.com/AleutianAI/tidewater/services/relay/datatypes"
	"github.com/gorilla/websocket"
)

// readChunkSize is the per-read buffer for the answer stream. Chunk
// boundaries seen by the callback are transport boundaries, not token
// boundaries; consumers accumulate.
const readChunkSize = 16 * 1024

// ChunkFunc receives each answer fragment in arrival order. Returning
// an error aborts the stream.
type ChunkFunc func(chunk string) error

// StatusFunc receives each decoded status event from the bridge.
type StatusFunc func(event datatypes.StatusEvent)

// Client talks to a tidewater relay.
//
// # Fields
//
//   - baseURL: Relay base URL, e.g. "http://localhost:12240".
//   - bridgeURL: Public status bridge URL, e.g. "ws://localhost:12240/broker/ws".
//   - httpClient: No overall timeout; streams are unbounded and cancel
//     via context.
//
// # Thread Safety
//
// Thread-safe for concurrent Ask and SubscribeStatus calls; each call
// owns its own connection.
type Client struct {
	baseURL    string
	bridgeURL  string
	httpClient *http.Client
	logger     *logging.Logger
}

// New creates a Client for the given relay.
//
// # Inputs
//
//   - baseURL: Relay HTTP base URL without trailing slash.
//   - bridgeURL: Status bridge WebSocket URL. May be empty when the
//     caller never subscribes to status.
//   - logger: Optional; nil gets a silent logger.
func New(baseURL, bridgeURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		baseURL:    baseURL,
		bridgeURL:  bridgeURL,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// UpstreamError reports a pre-stream rejection: the relay answered with
// an error envelope before any answer bytes flowed.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("relay rejected ask (status %d): %s", e.StatusCode, e.Message)
}

// Ask posts the request and streams the answer through onChunk.
//
// # Description
//
// The session id rides the X-Session-ID header so the relay and the
// upstream can correlate this stream with status events. Chunks are
// delivered in arrival order on the calling goroutine; when Ask
// returns nil the stream ended normally. A non-nil error after some
// chunks were delivered means the stream was truncated and the partial
// answer must not be presented as complete.
func (c *Client) Ask(ctx context.Context, sessionID string, req datatypes.AskRequest, onChunk ChunkFunc) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal ask request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ask/stream", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create ask request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(datatypes.SessionIDHeader, sessionID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute ask request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var envelope datatypes.ErrorResponse
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&envelope); decodeErr != nil {
			envelope.Error = "unreadable error response"
		}
		return &UpstreamError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if cbErr := onChunk(string(buf[:n])); cbErr != nil {
				return fmt.Errorf("chunk callback: %w", cbErr)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("answer stream interrupted: %w", readErr)
		}
	}
}

// SubscribeStatus connects to the status bridge and delivers decoded
// events until the context ends or the bridge closes.
//
// # Description
//
// Frames that do not decode as StatusEvent are logged and skipped; the
// broker broadcasts to every subscriber and not every frame concerns
// this client. Session filtering happens downstream in chatstate.
//
// # Outputs
//
//   - error: nil on an orderly close, the transport error otherwise.
func (c *Client) SubscribeStatus(ctx context.Context, onStatus StatusFunc) error {
	if c.bridgeURL == "" {
		return errors.New("no bridge URL configured")
	}

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.bridgeURL, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return fmt.Errorf("dial status bridge (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial status bridge: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if resp != nil {
		_ = resp.Body.Close()
	}

	// Unblock the read loop when the context is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, readErr := conn.ReadMessage()
		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read status frame: %w", readErr)
		}

		var event datatypes.StatusEvent
		if jsonErr := json.Unmarshal(payload, &event); jsonErr != nil || event.Status == "" {
			c.logger.Debug("Skipping undecodable status frame", "size", len(payload))
			continue
		}
		onStatus(event)
	}
}
