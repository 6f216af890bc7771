// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the relay service.
//
// This file contains the ask request and its retrieval settings. For the
// out-of-band status channel types, see status.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// SessionIDHeader is the header carrying the client-generated session
// identifier on every relay call. The same identifier rides as an
// application-level field on broker messages; it is the join key between
// the answer stream and the status channel.
const SessionIDHeader = "X-Session-ID"

const (
	// MaxQueryBytes is the maximum size of a single query.
	// Byte length, not rune count, to bound memory on hostile payloads.
	MaxQueryBytes = 32 * 1024 // 32KB

	// MaxLanguages is the maximum number of language filters per request.
	MaxLanguages = 16

	// DefaultSimilarityN is the retrieval result count when unspecified.
	DefaultSimilarityN = 10
)

// askValidate is the validator instance for ask datatypes.
var askValidate *validator.Validate

func init() {
	askValidate = validator.New()
	_ = askValidate.RegisterValidation("maxquerybytes", validateMaxQueryBytes)
}

func validateMaxQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// AskRequest represents one streamed question to the QA backend.
//
// # Description
//
// AskRequest is the body of POST /v1/ask/stream. It carries the user's
// query plus the retrieval settings that parameterize the upstream call.
// The session identifier is NOT part of the body; it travels in the
// X-Session-ID header so the relay can propagate it without parsing the
// payload.
//
// # Fields
//
//   - Query: Required. The user's question.
//     Limited to 32KB (byte length) to bound memory usage.
//   - Mode: Required. Upstream answering mode (e.g. "rag", "direct").
//   - SimilarityN: Optional. Retrieval result count, 1-100. Default 10.
//   - Languages: Optional. ISO language filters, at most 16.
//   - StartYear: Optional. Lower bound on document year.
//   - EndYear: Optional. Upper bound on document year. Must be >= StartYear
//     when both are set (checked in Validate, not expressible as a tag).
//
// # Validation
//
// Uses go-playground/validator:
//   - Query: required, maxquerybytes custom validator
//   - Mode: required
//   - SimilarityN: 0 (unset) or 1-100
//   - Languages: max 16 entries, each 2-8 chars
//
// # Examples
//
//	req := AskRequest{
//	    Query:       "tell me about dark matter",
//	    Mode:        "rag",
//	    SimilarityN: 5,
//	    Languages:   []string{"en"},
//	}
//
// # Assumptions
//
//   - The upstream backend interprets Mode; the relay does not.
type AskRequest struct {
	Query       string   `json:"query" validate:"required,maxquerybytes"`
	Mode        string   `json:"mode" validate:"required"`
	SimilarityN int      `json:"similarity_n,omitempty" validate:"gte=0,lte=100"`
	Languages   []string `json:"languages,omitempty" validate:"max=16,dive,min=2,max=8"`
	StartYear   int      `json:"start_year,omitempty" validate:"gte=0"`
	EndYear     int      `json:"end_year,omitempty" validate:"gte=0"`
}

// Validate validates the AskRequest fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field.
func (r *AskRequest) Validate() error {
	if err := askValidate.Struct(r); err != nil {
		return err
	}
	if r.StartYear != 0 && r.EndYear != 0 && r.EndYear < r.StartYear {
		return &YearRangeError{Start: r.StartYear, End: r.EndYear}
	}
	return nil
}

// EnsureDefaults populates default values for optional fields.
func (r *AskRequest) EnsureDefaults() {
	if r.SimilarityN == 0 {
		r.SimilarityN = DefaultSimilarityN
	}
}

// YearRangeError reports an inverted start/end year filter.
type YearRangeError struct {
	Start int
	End   int
}

func (e *YearRangeError) Error() string {
	return "end_year must not precede start_year"
}

// ErrorResponse is the JSON envelope returned for pre-stream failures.
//
// Once streaming has started the response is committed and errors can only
// be surfaced by truncating the stream; this envelope is used strictly
// before the first relayed byte.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReferencesPayload is the citation blob the backend publishes after the
// answer stream completes, correlated by session identifier.
//
// The relay treats the entries as opaque JSON; only the client attaches
// them to its conversation state.
type ReferencesPayload struct {
	SessionID  string           `json:"session_id"`
	References []map[string]any `json:"references"`
	CreatedAt  int64            `json:"created_at,omitempty"`
}

// NewReferencesPayload stamps a payload with the current time.
func NewReferencesPayload(sessionID string, refs []map[string]any) ReferencesPayload {
	return ReferencesPayload{
		SessionID:  sessionID,
		References: refs,
		CreatedAt:  time.Now().UnixMilli(),
	}
}
