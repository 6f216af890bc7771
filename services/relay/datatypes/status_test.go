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

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatusEvent_StampsTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	event := NewStatusEvent("sess-1", "retrieving", "searching index")
	after := time.Now().UnixMilli()

	assert.Equal(t, "sess-1", event.SessionID)
	assert.Equal(t, "retrieving", event.Status)
	assert.GreaterOrEqual(t, event.Timestamp, before)
	assert.LessOrEqual(t, event.Timestamp, after)
}

func TestStatusEvent_WireKeys(t *testing.T) {
	// The session key must survive the wire exactly; the client joins the
	// two channels on it.
	payload, err := json.Marshal(NewStatusEvent("sess-1", "ranking", ""))
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"session_id":"sess-1"`)
	assert.Contains(t, string(payload), `"status":"ranking"`)
	assert.NotContains(t, string(payload), `"message"`, "empty message is omitted")
}

func TestNewReferencesPayload(t *testing.T) {
	refs := []map[string]any{{"title": "Planck 2018 results", "doi": "10.1051/0004-6361/201833910"}}
	payload := NewReferencesPayload("sess-1", refs)

	assert.Equal(t, "sess-1", payload.SessionID)
	assert.Len(t, payload.References, 1)
	assert.NotZero(t, payload.CreatedAt)
}
