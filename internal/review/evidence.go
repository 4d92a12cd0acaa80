// SPDX-License-Identifier: Apache-2.0

package review

import "time"

// Status is the aggregate judgment for one requirement.
type Status string

const (
	StatusCovered Status = "covered"
	StatusPartial Status = "partial"
	StatusMissing Status = "missing"
	StatusFlagged Status = "flagged"
)

// Status thresholds on the best snippet confidence.
const (
	CoveredAbove   = 0.8
	PartialAtLeast = 0.5
	PartialCredit  = 0.5
)

// Classify maps a best-snippet confidence to a status.
func Classify(confidence float64) Status {
	switch {
	case confidence > CoveredAbove:
		return StatusCovered
	case confidence >= PartialAtLeast:
		return StatusPartial
	default:
		return StatusMissing
	}
}

// EvidenceSnippet is one localized piece of supporting text.
type EvidenceSnippet struct {
	DocumentID      string   `json:"document_id"`
	Filename        string   `json:"filename"`
	Page            int      `json:"page,omitempty"`
	Section         string   `json:"section,omitempty"`
	Text            string   `json:"text"`
	Confidence      float64  `json:"confidence"`
	MatchedKeywords []string `json:"matched_keywords"`
	Verified        bool     `json:"verified"`
}

// FieldSource records which extraction path produced a field.
type FieldSource string

const (
	FieldFromPattern FieldSource = "pattern"
	FieldFromOracle  FieldSource = "oracle"
)

// ExtractedField is a structured value (a date, an area, an owner) pulled from
// a document together with the quote that supports it. Verified is false when
// the quote could not be matched to the source text; such fields keep a
// penalized confidence so a reviewer still sees them.
type ExtractedField struct {
	Name       string      `json:"name"`
	Value      string      `json:"value"`
	RawText    string      `json:"raw_text"`
	DocumentID string      `json:"document_id"`
	Filename   string      `json:"filename"`
	Page       int         `json:"page,omitempty"`
	Confidence float64     `json:"confidence"`
	Similarity float64     `json:"similarity"`
	Verified   bool        `json:"verified"`
	Source     FieldSource `json:"source"`
}

// RequirementEvidence is the extraction result for one requirement. Snippets
// are ordered by descending confidence.
type RequirementEvidence struct {
	RequirementID string            `json:"requirement_id"`
	Status        Status            `json:"status"`
	Confidence    float64           `json:"confidence"`
	Mapping       Mapping           `json:"mapping"`
	Snippets      []EvidenceSnippet `json:"snippets"`
	Fields        []ExtractedField  `json:"fields,omitempty"`
	Notes         []string          `json:"notes,omitempty"`
}

// EvidenceSet is the persisted artifact of the Evidence Extraction stage.
type EvidenceSet struct {
	Version     int                   `json:"version"`
	ExtractedAt time.Time             `json:"extracted_at"`
	Items       []RequirementEvidence `json:"items"`
}

// StatusCounts tallies requirement statuses.
type StatusCounts struct {
	Covered int `json:"covered"`
	Partial int `json:"partial"`
	Missing int `json:"missing"`
	Flagged int `json:"flagged"`
}

// Total returns the number of counted requirements.
func (c StatusCounts) Total() int {
	return c.Covered + c.Partial + c.Missing + c.Flagged
}

// Counts tallies statuses over items.
func Counts(items []RequirementEvidence) StatusCounts {
	var c StatusCounts
	for _, item := range items {
		switch item.Status {
		case StatusCovered:
			c.Covered++
		case StatusPartial:
			c.Partial++
		case StatusMissing:
			c.Missing++
		case StatusFlagged:
			c.Flagged++
		}
	}
	return c
}

// Coverage is the fraction of requirements covered, with partial ones counted
// at half value.
func Coverage(items []RequirementEvidence) float64 {
	if len(items) == 0 {
		return 0
	}
	c := Counts(items)
	return (float64(c.Covered) + PartialCredit*float64(c.Partial)) / float64(len(items))
}
