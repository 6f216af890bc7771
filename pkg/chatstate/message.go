// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chatstate holds the client-side view of a conversation: the
// ordered message log, the in-flight exchange, and the retrieval
// settings that accompany each ask. The relay itself keeps no
// conversation state; everything here lives in the consuming process.
package chatstate

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks messages typed by the person asking.
	RoleUser Role = "user"

	// RoleAssistant marks answers assembled from relayed chunks.
	RoleAssistant Role = "assistant"

	// RoleSystem marks locally generated notices (errors, resets).
	RoleSystem Role = "system"
)

// Message is one entry in the conversation log.
type Message struct {
	ID         string           `json:"id"`
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	References []map[string]any `json:"references,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// NewMessage creates a Message with a fresh id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}
