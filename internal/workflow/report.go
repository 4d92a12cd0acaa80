// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"github.com/gemaraproj/registry-review/internal/review"
)

// buildReport assembles a Report from the evidence and validation artifacts.
// Requirements keep catalog order.
func buildReport(sess *review.Session, reqs []review.Requirement, set *review.EvidenceSet, validation *review.ValidationReport) *review.Report {
	items := make(map[string]review.RequirementEvidence, len(set.Items))
	for _, item := range set.Items {
		items[item.RequirementID] = item
	}
	findings := make(map[string]int)
	for _, f := range validation.Findings {
		if f.RequirementID != "" && f.Severity != review.SeverityPass {
			findings[f.RequirementID]++
		}
	}

	report := &review.Report{
		SessionID:          sess.ID,
		ProjectName:        sess.ProjectName,
		Methodology:        sess.Methodology,
		Scope:              sess.Scope,
		Coverage:           review.Coverage(set.Items),
		Counts:             review.Counts(set.Items),
		Requirements:       make([]review.RequirementSummary, 0, len(reqs)),
		ValidationStatus:   validation.Status,
		ValidationSummary:  validation.Summary,
		FindingsBySeverity: review.SeverityCounts(validation.Findings),
	}
	for _, r := range reqs {
		item, ok := items[r.ID]
		if !ok {
			item = review.RequirementEvidence{
				RequirementID: r.ID,
				Status:        review.StatusMissing,
				Notes:         []string{"no evidence was extracted for this requirement"},
			}
		}
		row := review.RequirementSummary{
			RequirementID: r.ID,
			Description:   r.Description,
			Category:      r.Category,
			Status:        item.Status,
			Confidence:    item.Confidence,
			Citations:     make([]review.Citation, 0, len(item.Snippets)),
			Notes:         item.Notes,
			Findings:      findings[r.ID],
		}
		for _, s := range item.Snippets {
			row.Citations = append(row.Citations, review.Citation{
				DocumentID: s.DocumentID,
				Filename:   s.Filename,
				Page:       s.Page,
				Section:    s.Section,
				Confidence: s.Confidence,
			})
		}
		report.Requirements = append(report.Requirements, row)
	}
	return report
}
