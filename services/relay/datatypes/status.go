// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// StatusEvent is an out-of-band progress notification for an in-flight
// exchange, delivered over the broker bridge.
//
// # Description
//
// The backend publishes one StatusEvent per processing phase ("retrieving
// documents", "reranking", ...) tagged with the session identifier of the
// exchange it belongs to. The bridge forwards the frames without parsing
// them; this type exists for the client side, which unmarshals broker
// payloads and routes them by SessionID.
//
// # Fields
//
//   - SessionID: Join key to the answer stream of the same exchange.
//   - Status: Free-form phase label.
//   - Message: Optional human-readable detail.
//   - Timestamp: Unix milliseconds when the backend emitted the event.
//
// # Assumptions
//
//   - Events are transient UI state; they are never merged into message
//     content and never persisted.
type StatusEvent struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewStatusEvent stamps a status event with the current time.
func NewStatusEvent(sessionID, status, message string) StatusEvent {
	return StatusEvent{
		SessionID: sessionID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}
