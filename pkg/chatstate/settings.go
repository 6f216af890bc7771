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
	"fmt"

	"github.com/AleutianAI/tidewater/services/relay/datatypes"
)

// Settings holds the retrieval parameters attached to every ask. They
// persist across exchanges until changed; the zero value for a year
// means "unbounded on that side".
//
// # Thread Safety
//
// Not thread-safe on its own; Settings is owned by the UI goroutine and
// only snapshots cross into request building.
type Settings struct {
	similarityN int
	languages   []string
	startYear   int
	endYear     int
}

// NewSettings returns Settings with service defaults.
func NewSettings() *Settings {
	return &Settings{similarityN: datatypes.DefaultSimilarityN}
}

// SetSimilarityN sets how many candidate passages retrieval considers.
func (s *Settings) SetSimilarityN(n int) error {
	if n < 1 || n > 100 {
		return fmt.Errorf("similarity_n must be between 1 and 100, got %d", n)
	}
	s.similarityN = n
	return nil
}

// SimilarityN returns the current candidate count.
func (s *Settings) SimilarityN() int {
	return s.similarityN
}

// SetLanguages replaces the language filter. An empty list means no
// filter. Codes are passed through as given; the service validates them.
func (s *Settings) SetLanguages(languages []string) error {
	if len(languages) > datatypes.MaxLanguages {
		return fmt.Errorf("at most %d languages allowed, got %d", datatypes.MaxLanguages, len(languages))
	}
	s.languages = append([]string(nil), languages...)
	return nil
}

// Languages returns a copy of the language filter.
func (s *Settings) Languages() []string {
	return append([]string(nil), s.languages...)
}

// SetYearRange bounds retrieval by publication year. Zero on either
// side leaves that side open.
func (s *Settings) SetYearRange(start, end int) error {
	if start != 0 && end != 0 && end < start {
		return &datatypes.YearRangeError{Start: start, End: end}
	}
	s.startYear = start
	s.endYear = end
	return nil
}

// YearRange returns the current bounds, zero meaning open.
func (s *Settings) YearRange() (start, end int) {
	return s.startYear, s.endYear
}

// BuildAskRequest assembles an AskRequest carrying the current settings.
func (s *Settings) BuildAskRequest(query, mode string) datatypes.AskRequest {
	return datatypes.AskRequest{
		Query:       query,
		Mode:        mode,
		SimilarityN: s.similarityN,
		Languages:   append([]string(nil), s.languages...),
		StartYear:   s.startYear,
		EndYear:     s.endYear,
	}
}
