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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAsk() AskRequest {
	return AskRequest{
		Query:       "tell me about dark matter",
		Mode:        "rag",
		SimilarityN: 5,
		Languages:   []string{"en", "de"},
		StartYear:   2015,
		EndYear:     2024,
	}
}

func TestAskRequest_Validate_Valid(t *testing.T) {
	req := validAsk()
	assert.NoError(t, req.Validate())
}

func TestAskRequest_Validate_RequiresQueryAndMode(t *testing.T) {
	req := validAsk()
	req.Query = ""
	assert.Error(t, req.Validate())

	req = validAsk()
	req.Mode = ""
	assert.Error(t, req.Validate())
}

func TestAskRequest_Validate_EnforcesQueryByteLimit(t *testing.T) {
	req := validAsk()
	req.Query = strings.Repeat("a", MaxQueryBytes)
	assert.NoError(t, req.Validate(), "exactly at the limit should pass")

	req.Query = strings.Repeat("a", MaxQueryBytes+1)
	assert.Error(t, req.Validate(), "one byte over the limit should fail")
}

func TestAskRequest_Validate_BoundsSimilarityN(t *testing.T) {
	req := validAsk()
	req.SimilarityN = 101
	assert.Error(t, req.Validate())

	req.SimilarityN = 0 // unset is fine; EnsureDefaults fills it
	assert.NoError(t, req.Validate())
}

func TestAskRequest_Validate_RejectsInvertedYearRange(t *testing.T) {
	req := validAsk()
	req.StartYear = 2024
	req.EndYear = 2015
	err := req.Validate()
	require.Error(t, err)
	assert.IsType(t, &YearRangeError{}, err)
}

func TestAskRequest_Validate_OpenEndedYearRange(t *testing.T) {
	// Only one bound set: valid in either direction.
	req := validAsk()
	req.StartYear = 2015
	req.EndYear = 0
	assert.NoError(t, req.Validate())

	req.StartYear = 0
	req.EndYear = 2015
	assert.NoError(t, req.Validate())
}

func TestAskRequest_EnsureDefaults(t *testing.T) {
	req := AskRequest{Query: "q", Mode: "rag"}
	req.EnsureDefaults()
	assert.Equal(t, DefaultSimilarityN, req.SimilarityN)

	req = AskRequest{Query: "q", Mode: "rag", SimilarityN: 3}
	req.EnsureDefaults()
	assert.Equal(t, 3, req.SimilarityN, "explicit value must not be overwritten")
}
