// SPDX-License-Identifier: Apache-2.0

// Package review holds the object graph of a registry review session: the
// session record, its documents, requirement mappings, extracted evidence and
// validation findings. Every type here is serialized as-is to the HTTP and MCP
// surfaces, so field names and JSON tags are part of the external contract.
package review

import "time"

// Scope selects which requirements of a methodology apply to a session.
type Scope string

const (
	ScopeFarm Scope = "farm"
	ScopeMeta Scope = "meta"
	ScopeAll  Scope = "all"
)

// ParseScope returns the Scope for s, or false when s is not a known scope.
func ParseScope(s string) (Scope, bool) {
	switch Scope(s) {
	case ScopeFarm, ScopeMeta, ScopeAll:
		return Scope(s), true
	case "":
		return ScopeAll, true
	}
	return "", false
}

// Includes reports whether a requirement tagged with tag belongs to this scope.
func (s Scope) Includes(tag Scope) bool {
	return s == ScopeAll || s == tag
}

// Session is one review unit, normally one project.
type Session struct {
	ID              string        `json:"id"`
	ProjectName     string        `json:"project_name"`
	Methodology     string        `json:"methodology"`
	Scope           Scope         `json:"scope"`
	CurrentStage    Stage         `json:"current_stage"`
	CompletedStages []Stage       `json:"completed_stages"`
	Versions        map[Stage]int `json:"artifact_versions"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsComplete reports whether stage carries a completion marker.
func (s *Session) IsComplete(stage Stage) bool {
	for _, c := range s.CompletedStages {
		if c == stage {
			return true
		}
	}
	return false
}

// DocumentType is the semantic type the classifier assigns to a file.
type DocumentType string

const (
	DocProjectPlan      DocumentType = "project_plan"
	DocBaselineReport   DocumentType = "baseline_report"
	DocMonitoringReport DocumentType = "monitoring_report"
	DocLandTenure       DocumentType = "land_tenure"
	DocLandCoverMap     DocumentType = "land_cover_map"
	DocGHGEmissions     DocumentType = "ghg_emissions"
	DocSamplingReport   DocumentType = "sampling_report"
	DocRegistryForm     DocumentType = "registry_form"
	DocSpreadsheetData  DocumentType = "spreadsheet_data"
	DocUnknown          DocumentType = "unknown"
)

// DocumentTypes lists every DocumentType in a fixed order.
var DocumentTypes = []DocumentType{
	DocProjectPlan, DocBaselineReport, DocMonitoringReport, DocLandTenure,
	DocLandCoverMap, DocGHGEmissions, DocSamplingReport, DocRegistryForm,
	DocSpreadsheetData, DocUnknown,
}

// ValidDocumentType reports whether t is one of DocumentTypes.
func ValidDocumentType(t DocumentType) bool {
	for _, known := range DocumentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Document is one ingested file. Text renderings live in the artifact store
// under TextRef and are loaded on demand by the stages that need them.
type Document struct {
	ID             string       `json:"id"`
	Filename       string       `json:"filename"`
	RelPath        string       `json:"rel_path"`
	Type           DocumentType `json:"type"`
	MatchedPattern string       `json:"matched_pattern,omitempty"`
	MatchSource    string       `json:"match_source,omitempty"`
	Reclassified   bool         `json:"reclassified,omitempty"`
	SizeBytes      int64        `json:"size_bytes"`
	PageCount      int          `json:"page_count,omitempty"`
	ContentPath    string       `json:"content_path"`
	RenderingPath  string       `json:"rendering_path,omitempty"`
	TextRef        string       `json:"text_ref,omitempty"`
	Renderer       string       `json:"renderer,omitempty"`
	RenderError    string       `json:"render_error,omitempty"`
}

// Requirement is one checklist line item from the catalog.
type Requirement struct {
	ID               string   `json:"id" yaml:"id"`
	Description      string   `json:"description" yaml:"description"`
	Category         string   `json:"category" yaml:"category"`
	Scope            Scope    `json:"scope" yaml:"scope"`
	AcceptedEvidence string   `json:"accepted_evidence" yaml:"accepted_evidence"`
	Fields           []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// DocumentScore is one ranked candidate inside a Mapping.
type DocumentScore struct {
	DocumentID      string   `json:"document_id"`
	Filename        string   `json:"filename"`
	Score           float64  `json:"score"`
	MatchedKeywords []string `json:"matched_keywords"`
}

// Mapping associates a requirement with its ranked candidate documents.
type Mapping struct {
	RequirementID string          `json:"requirement_id"`
	Keywords      []string        `json:"keywords"`
	Candidates    []DocumentScore `json:"candidates"`
	Corrected     bool            `json:"corrected,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// MappingSet is the persisted artifact of the Requirement Mapping stage.
type MappingSet struct {
	Version  int       `json:"version"`
	Mappings []Mapping `json:"mappings"`
}

// Find returns the mapping for requirementID.
func (m *MappingSet) Find(requirementID string) (Mapping, bool) {
	for _, mapping := range m.Mappings {
		if mapping.RequirementID == requirementID {
			return mapping, true
		}
	}
	return Mapping{}, false
}

// DocumentSet is the persisted artifact of the Document Discovery stage.
type DocumentSet struct {
	Version   int        `json:"version"`
	Source    string     `json:"source"`
	Documents []Document `json:"documents"`
}

// Find returns the document with id.
func (d *DocumentSet) Find(id string) (Document, bool) {
	for _, doc := range d.Documents {
		if doc.ID == id {
			return doc, true
		}
	}
	return Document{}, false
}
