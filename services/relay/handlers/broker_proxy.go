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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/tidewater/services/relay/datatypes"
	"github.com/AleutianAI/tidewater/services/relay/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ===== Timing Constants =====

const (
	// bridgeWriteWait bounds a single frame write on either leg.
	bridgeWriteWait = 10 * time.Second

	// bridgePongWait is how long a leg may stay silent before the bridge
	// considers it dead. Must exceed bridgePingPeriod.
	bridgePongWait = 60 * time.Second

	// bridgePingPeriod is the keepalive interval for both legs.
	bridgePingPeriod = 30 * time.Second
)

// ===== Bridge State Machine =====

// BridgeState tracks a bridge through its lifecycle. Transitions only
// move forward: Pending -> Bridged -> Closing -> Closed. A failed dial
// jumps Pending straight to Closed.
type BridgeState int32

const (
	// StatePending: client arrived, internal broker leg not yet established.
	StatePending BridgeState = iota

	// StateBridged: both legs live, frames flowing.
	StateBridged

	// StateClosing: one leg signaled close, draining toward the other.
	StateClosing

	// StateClosed: both legs released.
	StateClosed
)

// String returns the state name for logs and span attributes.
func (s BridgeState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBridged:
		return "bridged"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ===== Handler =====

// BrokerBridgeHandler defines the contract for the status channel bridge.
//
// # Description
//
// BrokerBridgeHandler exposes the internal status broker's WebSocket
// endpoint on the public surface. It dials the broker first, upgrades the
// client second, then forwards frames in both directions without parsing
// them. Status payloads are opaque to the bridge; correlation by session
// id happens in the client.
//
// # Limitations
//
//   - No frame inspection, filtering, or per-session fan-out. Every
//     bridged client sees the full broker feed.
//   - One broker leg per client connection; the bridge does not multiplex.
type BrokerBridgeHandler interface {
	// HandleBridge processes WebSocket requests on the public bridge path.
	//
	// # Outputs
	//
	// On broker dial failure: 502 with a JSON error envelope, no upgrade
	// performed so the client sees an ordinary HTTP rejection. Otherwise
	// the connection is upgraded and held until either leg closes.
	HandleBridge(c *gin.Context)
}

// brokerBridgeHandler implements BrokerBridgeHandler.
//
// # Fields
//
//   - brokerURL: Internal broker WebSocket URL (ws:// or wss://).
//   - upgrader: Upgrader for the client leg.
//   - dialer: Dialer for the broker leg.
//   - tracer: OpenTelemetry tracer.
//
// # Thread Safety
//
// Thread-safe. Fields are read-only after construction; each bridged
// connection owns its own bridge value.
type brokerBridgeHandler struct {
	brokerURL string
	upgrader  websocket.Upgrader
	dialer    *websocket.Dialer
	tracer    trace.Tracer
}

// NewBrokerBridgeHandler creates a BrokerBridgeHandler targeting the
// given internal broker WebSocket URL.
//
// # Inputs
//
//   - brokerURL: Internal broker endpoint, e.g. "ws://status-broker:8100/ws".
//     Must not be empty; panics otherwise (config validates at startup).
func NewBrokerBridgeHandler(brokerURL string) BrokerBridgeHandler {
	if brokerURL == "" {
		panic("NewBrokerBridgeHandler: brokerURL must not be empty")
	}

	return &brokerBridgeHandler{
		brokerURL: brokerURL,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		tracer: otel.Tracer("tidewater.relay.handlers.broker_bridge"),
	}
}

// HandleBridge processes WebSocket requests on the public bridge path.
//
// # Description
//
// The flow is:
//  1. Dial the internal broker. Failure here is a clean HTTP 502; the
//     client connection was never upgraded.
//  2. Upgrade the client connection.
//  3. Run one forwarding goroutine per direction plus a keepalive ticker.
//  4. When either leg errors or closes, propagate a close frame to the
//     other leg and tear both down.
func (h *brokerBridgeHandler) HandleBridge(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointBrokerBridge

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleBridge")
	defer span.End()

	// Step 1: Dial the broker before touching the client connection.
	// Upgrading first would leave us holding a WebSocket we can only
	// slam shut; rejecting pre-upgrade gives the client a real status.
	header := http.Header{}
	if proto := c.GetHeader("Sec-WebSocket-Protocol"); proto != "" {
		header.Set("Sec-WebSocket-Protocol", proto)
	}

	brokerConn, resp, err := h.dialer.DialContext(ctx, h.brokerURL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "broker dial failed")
		slog.Error("Failed to dial status broker",
			"error", err,
			"brokerStatus", status,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeBridgeDial)
			m.RecordRequest(endpoint, false)
		}
		c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "status broker unavailable"})
		return
	}

	// Step 2: Upgrade the client leg, echoing whatever subprotocol the
	// broker accepted so negotiation passes through untouched.
	var upgradeHeader http.Header
	if accepted := resp.Header.Get("Sec-WebSocket-Protocol"); accepted != "" {
		upgradeHeader = http.Header{"Sec-WebSocket-Protocol": {accepted}}
	}
	_ = resp.Body.Close()

	clientConn, err := h.upgrader.Upgrade(c.Writer, c.Request, upgradeHeader)
	if err != nil {
		// Upgrade writes its own error response.
		_ = brokerConn.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "client upgrade failed")
		slog.Error("Failed to upgrade bridge client", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
			m.RecordRequest(endpoint, false)
		}
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.BridgeOpened()
		defer m.BridgeClosed()
	}

	b := newBridge(clientConn, brokerConn)
	slog.Info("Status bridge established", "remoteAddr", c.Request.RemoteAddr)

	runErr := b.run(ctx)

	duration := time.Since(startTime).Seconds()
	span.SetAttributes(
		attribute.String("bridge.final_state", b.state().String()),
		attribute.Float64("bridge.duration_seconds", duration),
	)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, runErr == nil)
		m.RecordStreamDuration(endpoint, duration, runErr == nil)
	}

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "bridge terminated abnormally")
		slog.Info("Status bridge closed abnormally", "error", runErr)
		return
	}
	span.SetStatus(codes.Ok, "bridge closed cleanly")
	slog.Info("Status bridge closed", "durationSeconds", duration)
}

// ===== Bridge =====

// wsLeg wraps one WebSocket connection with a write lock. Gorilla
// connections support one concurrent writer; the forwarding goroutine
// and the keepalive ticker both write, so every write goes through here.
type wsLeg struct {
	name string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (l *wsLeg) writeMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
	return l.conn.WriteMessage(messageType, data)
}

func (l *wsLeg) writeControl(messageType int, data []byte) error {
	// WriteControl takes its deadline directly and is safe to call
	// concurrently with WriteMessage per gorilla's contract.
	return l.conn.WriteControl(messageType, data, time.Now().Add(bridgeWriteWait))
}

// bridge holds the two legs of one client<->broker pairing.
type bridge struct {
	client *wsLeg
	broker *wsLeg
	st     atomic.Int32
}

func newBridge(clientConn, brokerConn *websocket.Conn) *bridge {
	b := &bridge{
		client: &wsLeg{name: "client", conn: clientConn},
		broker: &wsLeg{name: "broker", conn: brokerConn},
	}
	b.st.Store(int32(StatePending))
	return b
}

func (b *bridge) state() BridgeState {
	return BridgeState(b.st.Load())
}

// transition advances the state machine, never backward.
func (b *bridge) transition(from, to BridgeState) bool {
	return b.st.CompareAndSwap(int32(from), int32(to))
}

// run drives the bridge until either leg terminates, then tears down both.
//
// # Description
//
// Three goroutines under one errgroup: broker->client forwarding,
// client->broker forwarding, and a keepalive ticker pinging both legs.
// The first forwarding error moves the bridge to Closing and cancels
// the group context; closing both underlying connections unblocks the
// peer goroutine's blocking read.
//
// # Outputs
//
//   - error: nil when the bridge ended with a normal close handshake on
//     either leg, the terminating error otherwise.
func (b *bridge) run(ctx context.Context) error {
	b.transition(StatePending, StateBridged)
	defer b.st.Store(int32(StateClosed))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.forward(b.broker, b.client, observability.DirectionBrokerToClient)
	})
	g.Go(func() error {
		return b.forward(b.client, b.broker, observability.DirectionClientToBroker)
	})
	g.Go(func() error {
		return b.keepalive(gctx)
	})

	// Unblock pending reads as soon as the first goroutine exits.
	<-gctx.Done()
	_ = b.client.conn.Close()
	_ = b.broker.conn.Close()

	err := g.Wait()
	if err == nil || isNormalClose(err) {
		return nil
	}
	return err
}

// forward pumps frames from src to dst until src terminates.
//
// One goroutine per direction is the ordering guarantee: frames leave
// dst in exactly the order they arrived on src.
func (b *bridge) forward(src, dst *wsLeg, direction string) error {
	_ = src.conn.SetReadDeadline(time.Now().Add(bridgePongWait))
	src.conn.SetPongHandler(func(string) error {
		return src.conn.SetReadDeadline(time.Now().Add(bridgePongWait))
	})

	for {
		messageType, payload, err := src.conn.ReadMessage()
		if err != nil {
			b.transition(StateBridged, StateClosing)
			b.propagateClose(dst, err)
			if isNormalClose(err) {
				return fmt.Errorf("%s leg closed: %w", src.name, err)
			}
			return fmt.Errorf("read from %s leg: %w", src.name, err)
		}

		// Payloads are opaque. Text stays text, binary stays binary.
		if err := dst.writeMessage(messageType, payload); err != nil {
			b.transition(StateBridged, StateClosing)
			return fmt.Errorf("write to %s leg: %w", dst.name, err)
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordFrameForwarded(direction)
			m.RecordBytesRelayed(observability.EndpointBrokerBridge, len(payload))
		}
	}
}

// propagateClose relays a close handshake to the surviving leg so it
// learns promptly instead of waiting out a read deadline.
func (b *bridge) propagateClose(dst *wsLeg, cause error) {
	code := websocket.CloseGoingAway
	text := ""
	var ce *websocket.CloseError
	if errors.As(cause, &ce) {
		code = ce.Code
		text = ce.Text
	}
	msg := websocket.FormatCloseMessage(code, text)
	if err := dst.writeControl(websocket.CloseMessage, msg); err != nil {
		slog.Debug("Failed to propagate close frame", "leg", dst.name, "error", err)
	}
}

// keepalive pings both legs on a shared ticker. A leg that stops
// answering trips its read deadline in forward.
func (b *bridge) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(bridgePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.client.writeControl(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping client leg: %w", err)
			}
			if err := b.broker.writeControl(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping broker leg: %w", err)
			}
		}
	}
}

// isNormalClose reports whether err represents an orderly shutdown of
// either leg rather than a transport fault.
func isNormalClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}

// Compile-time interface check
var _ BrokerBridgeHandler = (*brokerBridgeHandler)(nil)
