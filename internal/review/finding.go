// SPDX-License-Identifier: Apache-2.0

package review

import "time"

// Severity of a validation finding.
type Severity string

const (
	SeverityPass    Severity = "pass"
	SeverityWarning Severity = "warning"
	SeverityFail    Severity = "fail"
)

// Tier identifies which validation layer produced a finding.
type Tier int

const (
	TierStructural    Tier = 1
	TierCrossDocument Tier = 2
	TierSynthesized   Tier = 3
)

// CheckType names a validation check. Findings are grouped by check type in
// the order of CheckTypes.
type CheckType string

const (
	CheckDateFormat            CheckType = "date_format"
	CheckIdentifierFormat      CheckType = "identifier_format"
	CheckAreaValue             CheckType = "area_value"
	CheckFieldVerification     CheckType = "field_verification"
	CheckDateAlignment         CheckType = "date_alignment"
	CheckDateAgreement         CheckType = "date_agreement"
	CheckAreaAgreement         CheckType = "area_agreement"
	CheckOwnerAgreement        CheckType = "owner_agreement"
	CheckIdentifierConsistency CheckType = "identifier_consistency"
	CheckLLMAssessment         CheckType = "llm_assessment"
)

// CheckTypes is the presentation order of check types.
var CheckTypes = []CheckType{
	CheckDateFormat,
	CheckIdentifierFormat,
	CheckAreaValue,
	CheckFieldVerification,
	CheckDateAlignment,
	CheckDateAgreement,
	CheckAreaAgreement,
	CheckOwnerAgreement,
	CheckIdentifierConsistency,
	CheckLLMAssessment,
}

// ValidationFinding is one consistency result.
type ValidationFinding struct {
	ID            string    `json:"id"`
	CheckType     CheckType `json:"check_type"`
	Tier          Tier      `json:"tier"`
	Severity      Severity  `json:"severity"`
	Documents     []string  `json:"documents,omitempty"`
	Fields        []string  `json:"fields,omitempty"`
	Message       string    `json:"message"`
	RequirementID string    `json:"requirement_id,omitempty"`
	Advisory      bool      `json:"advisory,omitempty"`
	Reproducible  bool      `json:"reproducible"`
}

// ValidationStatus summarizes a validation run. NoChecks is distinct from
// Passed: an empty finding list is never a clean pass.
type ValidationStatus string

const (
	ValidationNoChecks ValidationStatus = "no_checks"
	ValidationPassed   ValidationStatus = "passed"
	ValidationWarnings ValidationStatus = "warnings"
	ValidationFailed   ValidationStatus = "failed"
)

// ValidationReport is the persisted artifact of the Cross-Validation stage.
type ValidationReport struct {
	Version     int                 `json:"version"`
	ValidatedAt time.Time           `json:"validated_at"`
	Status      ValidationStatus    `json:"status"`
	Summary     string              `json:"summary"`
	ChecksRun   map[Tier]int        `json:"checks_run"`
	Findings    []ValidationFinding `json:"findings"`
	Notes       []string            `json:"notes,omitempty"`
}

// TotalChecks returns the number of checks that ran across all tiers.
func (r *ValidationReport) TotalChecks() int {
	n := 0
	for _, c := range r.ChecksRun {
		n += c
	}
	return n
}

// SeverityCounts tallies findings by severity.
func SeverityCounts(findings []ValidationFinding) map[Severity]int {
	out := map[Severity]int{SeverityPass: 0, SeverityWarning: 0, SeverityFail: 0}
	for _, f := range findings {
		out[f.Severity]++
	}
	return out
}

// Citation points a reviewer at the source of a snippet.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page,omitempty"`
	Section    string  `json:"section,omitempty"`
	Confidence float64 `json:"confidence"`
}

// RequirementSummary is one row of a Report.
type RequirementSummary struct {
	RequirementID string     `json:"requirement_id"`
	Description   string     `json:"description"`
	Category      string     `json:"category"`
	Status        Status     `json:"status"`
	Confidence    float64    `json:"confidence"`
	Citations     []Citation `json:"citations"`
	Notes         []string   `json:"notes,omitempty"`
	Findings      int        `json:"findings"`
}

// Report is the serializable output of Report Generation, consumed by external
// renderers.
type Report struct {
	Version            int                  `json:"version"`
	SessionID          string               `json:"session_id"`
	ProjectName        string               `json:"project_name"`
	Methodology        string               `json:"methodology"`
	Scope              Scope                `json:"scope"`
	GeneratedAt        time.Time            `json:"generated_at"`
	Coverage           float64              `json:"overall_coverage"`
	Counts             StatusCounts         `json:"counts"`
	Requirements       []RequirementSummary `json:"requirements"`
	ValidationStatus   ValidationStatus     `json:"validation_status"`
	ValidationSummary  string               `json:"validation_summary"`
	FindingsBySeverity map[Severity]int     `json:"findings_by_severity"`
}

// Decision is a reviewer's verdict on one requirement. An empty Status
// accepts the proposed status.
type Decision struct {
	RequirementID string `json:"requirement_id"`
	Status        Status `json:"status,omitempty"`
	Note          string `json:"note,omitempty"`
}

// Review is the persisted artifact of the Human Review stage.
type Review struct {
	Version    int        `json:"version"`
	Reviewer   string     `json:"reviewer"`
	ReviewedAt time.Time  `json:"reviewed_at"`
	Decisions  []Decision `json:"decisions"`
}
