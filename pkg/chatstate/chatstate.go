// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chatstate

import (
	"strings"
	"sync"

	"github.com/AleutianAI/tidewater/pkg/logging"
	"github.com/AleutianAI/tidewater/services/relay/datatypes"
	"github.com/google/uuid"
)

// State is the conversation held by a client process.
//
// # Description
//
// State tracks the ordered message log plus the single in-flight
// exchange, if any. An exchange is opened with BeginExchange, fed by
// ApplyChunk (answer bytes) and ApplyStatus (broker events), and closed
// with EndExchange. Both feeds carry the session id the exchange was
// opened with; anything arriving under a different id is dropped and
// counted, never applied.
//
// # Thread Safety
//
// Thread-safe. The answer stream and the status channel arrive on
// separate goroutines and both mutate the same State.
type State struct {
	mu sync.RWMutex

	messages      []Message
	loading       bool
	lastError     string
	lastStatus    string
	openSessionID string
	answer        strings.Builder
	droppedEvents int

	logger *logging.Logger
}

// New creates an empty State. A nil logger is replaced with a silent one.
func New(logger *logging.Logger) *State {
	if logger == nil {
		logger = logging.Discard()
	}
	return &State{logger: logger}
}

// ===== Message Log =====

// AddMessage appends a message and returns it.
func (s *State) AddMessage(role Role, content string) Message {
	msg := NewMessage(role, content)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return msg
}

// Messages returns a copy of the log in insertion order.
func (s *State) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// UpdateLastAssistantMessage replaces the content of the most recent
// assistant message. The argument is the full accumulated text so far,
// not a delta; callers re-render from it directly.
//
// Returns false without touching the log when no assistant message
// exists yet.
func (s *State) UpdateLastAssistantMessage(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLastAssistantLocked(content)
}

func (s *State) updateLastAssistantLocked(content string) bool {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAssistant {
			s.messages[i].Content = content
			return true
		}
	}
	return false
}

// AddReferencesToLastAssistantMessage attaches source references to the
// most recent assistant message. A later payload overwrites any earlier
// partial one; the backend may publish provisional references before the
// final set.
//
// Returns false when no assistant message exists.
func (s *State) AddReferencesToLastAssistantMessage(refs []map[string]any) bool {
	if len(refs) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setReferencesOnLastAssistantLocked(refs)
}

func (s *State) setReferencesOnLastAssistantLocked(refs []map[string]any) bool {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAssistant {
			s.messages[i].References = append([]map[string]any(nil), refs...)
			return true
		}
	}
	return false
}

// ClearMessages drops the whole log and abandons any open exchange.
// Chunks and events for the abandoned session id are dropped afterward.
func (s *State) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.openSessionID = ""
	s.answer.Reset()
	s.loading = false
	s.lastError = ""
	s.lastStatus = ""
}

// ===== Flags =====

// SetLoading flips the loading flag.
func (s *State) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// Loading reports whether an exchange is in flight.
func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SetError records a user-visible error and stops loading.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
	s.loading = false
}

// Err returns the last recorded error, empty when none.
func (s *State) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// LastStatus returns the most recent accepted status event's status.
func (s *State) LastStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStatus
}

// DroppedEvents returns how many chunks and status events were dropped
// for failing session correlation.
func (s *State) DroppedEvents() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.droppedEvents
}

// ===== Exchange Lifecycle =====

// BeginExchange opens a new exchange: it appends the user's message,
// appends an empty assistant message for chunks to land in, generates
// the session id both channels will carry, and flips loading on.
//
// # Outputs
//
//   - string: The session id to send on the ask request and to match
//     against incoming status events.
func (s *State) BeginExchange(query string) string {
	sessionID := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, NewMessage(RoleUser, query))
	s.messages = append(s.messages, NewMessage(RoleAssistant, ""))
	s.openSessionID = sessionID
	s.answer.Reset()
	s.loading = true
	s.lastError = ""
	s.lastStatus = ""
	return sessionID
}

// ApplyChunk folds one relayed answer chunk into the open exchange.
//
// Chunks accumulate internally; the assistant message is rewritten with
// the full text every time so renderers never see partial splices.
// Chunks for a session other than the open one are dropped.
func (s *State) ApplyChunk(sessionID, chunk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" || sessionID != s.openSessionID {
		s.droppedEvents++
		s.logger.Warn("Dropping answer chunk for unknown session",
			"sessionId", sessionID,
			"openSessionId", s.openSessionID,
		)
		return false
	}

	s.answer.WriteString(chunk)
	return s.updateLastAssistantLocked(s.answer.String())
}

// ApplyStatus folds one broker status event into the open exchange.
//
// Events for stale or unknown session ids are dropped and counted. The
// sender keeps broadcasting; correlation is entirely the client's job.
func (s *State) ApplyStatus(event datatypes.StatusEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.SessionID == "" || event.SessionID != s.openSessionID {
		s.droppedEvents++
		s.logger.Warn("Dropping status event for unknown session",
			"sessionId", event.SessionID,
			"openSessionId", s.openSessionID,
			"status", event.Status,
		)
		return false
	}

	s.lastStatus = event.Status
	return true
}

// ApplyReferences attaches a references payload to the open exchange's
// assistant message, subject to the same session gate as chunks. The
// gate and the attach share one critical section so a concurrently
// opened exchange can never receive another session's references.
func (s *State) ApplyReferences(payload datatypes.ReferencesPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payload.SessionID == "" || payload.SessionID != s.openSessionID {
		s.droppedEvents++
		s.logger.Warn("Dropping references for unknown session",
			"sessionId", payload.SessionID,
			"openSessionId", s.openSessionID,
		)
		return false
	}

	if len(payload.References) == 0 {
		return false
	}
	return s.setReferencesOnLastAssistantLocked(payload.References)
}

// EndExchange closes the exchange if sessionID matches the open one.
// Later chunks and events under that id are dropped.
func (s *State) EndExchange(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.openSessionID {
		return
	}
	s.openSessionID = ""
	s.loading = false
}

// OpenSessionID returns the session id of the in-flight exchange, empty
// when none is open.
func (s *State) OpenSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openSessionID
}
