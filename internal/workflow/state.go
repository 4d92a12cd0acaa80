// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gemaraproj/registry-review/internal/review"
	"github.com/gemaraproj/registry-review/internal/store"
)

// StageStatus is the completion flag of one stage. Ready means every
// predecessor is complete, so the stage may run.
type StageStatus struct {
	Stage    review.Stage `json:"stage"`
	Complete bool         `json:"complete"`
	Ready    bool         `json:"ready"`
	Version  int          `json:"version,omitempty"`
}

// Summary condenses the artifacts of a session.
type Summary struct {
	Documents          int                         `json:"documents"`
	DocumentsByType    map[review.DocumentType]int `json:"documents_by_type,omitempty"`
	UnrenderedDocs     int                         `json:"unrendered_documents,omitempty"`
	Requirements       int                         `json:"requirements"`
	MappedRequirements int                         `json:"mapped_requirements,omitempty"`
	Counts             *review.StatusCounts        `json:"counts,omitempty"`
	Coverage           *float64                    `json:"overall_coverage,omitempty"`
	ValidationStatus   review.ValidationStatus     `json:"validation_status,omitempty"`
	ValidationSummary  string                      `json:"validation_summary,omitempty"`
	FindingsBySeverity map[review.Severity]int     `json:"findings_by_severity,omitempty"`
	ReviewDecisions    int                         `json:"review_decisions,omitempty"`
}

// State is the result of GetSessionState.
type State struct {
	Session *review.Session `json:"session"`
	Stage   review.Stage    `json:"stage"`
	Stages  []StageStatus   `json:"stages"`
	Summary Summary         `json:"summary"`
	Message string          `json:"message"`
}

// Graph is the full object graph of a session. Artifacts of stages that
// have not completed are nil.
type Graph struct {
	Session      *review.Session          `json:"session"`
	Stages       []StageStatus            `json:"stages"`
	Requirements []review.Requirement     `json:"requirements"`
	Documents    *review.DocumentSet      `json:"documents,omitempty"`
	Mappings     *review.MappingSet       `json:"mappings,omitempty"`
	Evidence     *review.EvidenceSet      `json:"evidence,omitempty"`
	Validation   *review.ValidationReport `json:"validation,omitempty"`
	Report       *review.Report           `json:"report,omitempty"`
	Review       *review.Review           `json:"review,omitempty"`
}

func stageStatuses(sess *review.Session) []StageStatus {
	out := make([]StageStatus, len(review.Stages))
	for i, s := range review.Stages {
		out[i] = StageStatus{
			Stage:    s,
			Complete: sess.IsComplete(s),
			Ready:    len(missingPredecessors(sess, s)) == 0,
		}
		if out[i].Complete {
			out[i].Version = sess.Versions[s]
		}
	}
	return out
}

// GetGraph returns the session with every artifact it currently has.
func (c *Controller) GetGraph(ctx context.Context, sessionID string) (*Graph, error) {
	g := &Graph{}
	err := c.store.View(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return err
		}
		g.Session = sess

		load := func(kind store.Kind, v any) (bool, error) {
			err := tx.GetArtifact(sessionID, kind, v)
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		}
		var (
			docs       review.DocumentSet
			mappings   review.MappingSet
			ev         review.EvidenceSet
			validation review.ValidationReport
			report     review.Report
			rv         review.Review
		)
		if ok, err := load(store.KindDocuments, &docs); err != nil {
			return err
		} else if ok {
			g.Documents = &docs
		}
		if ok, err := load(store.KindMappings, &mappings); err != nil {
			return err
		} else if ok {
			g.Mappings = &mappings
		}
		if ok, err := load(store.KindEvidence, &ev); err != nil {
			return err
		} else if ok {
			g.Evidence = &ev
		}
		if ok, err := load(store.KindValidation, &validation); err != nil {
			return err
		} else if ok {
			g.Validation = &validation
		}
		if ok, err := load(store.KindReport, &report); err != nil {
			return err
		} else if ok {
			g.Report = &report
		}
		if ok, err := load(store.KindReview, &rv); err != nil {
			return err
		} else if ok {
			g.Review = &rv
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.Stages = stageStatuses(g.Session)
	reqs, err := c.requirements(g.Session)
	if err != nil {
		return nil, err
	}
	g.Requirements = reqs
	return g, nil
}

// GetSessionState returns the current stage with a summary of the session's
// artifacts.
func (c *Controller) GetSessionState(ctx context.Context, sessionID string) (*State, error) {
	g, err := c.GetGraph(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	st := &State{
		Session: g.Session,
		Stage:   g.Session.CurrentStage,
		Stages:  g.Stages,
		Summary: summarize(g),
	}
	st.Message = describe(st)
	return st, nil
}

func summarize(g *Graph) Summary {
	s := Summary{Requirements: len(g.Requirements)}
	if g.Documents != nil {
		s.Documents = len(g.Documents.Documents)
		s.DocumentsByType = make(map[review.DocumentType]int)
		for _, d := range g.Documents.Documents {
			s.DocumentsByType[d.Type]++
			if d.RenderError != "" {
				s.UnrenderedDocs++
			}
		}
	}
	if g.Mappings != nil {
		for _, m := range g.Mappings.Mappings {
			if len(m.Candidates) > 0 {
				s.MappedRequirements++
			}
		}
	}
	if g.Evidence != nil {
		counts := review.Counts(g.Evidence.Items)
		coverage := review.Coverage(g.Evidence.Items)
		s.Counts = &counts
		s.Coverage = &coverage
	}
	if g.Validation != nil {
		s.ValidationStatus = g.Validation.Status
		s.ValidationSummary = g.Validation.Summary
		s.FindingsBySeverity = review.SeverityCounts(g.Validation.Findings)
	}
	if g.Review != nil {
		s.ReviewDecisions = len(g.Review.Decisions)
	}
	return s
}

func describe(st *State) string {
	var parts []string
	if st.Session.IsComplete(review.StageCompletion) {
		parts = append(parts, "review complete")
	} else {
		parts = append(parts, fmt.Sprintf("next stage: %s", st.Stage))
	}
	parts = append(parts, fmt.Sprintf("%d documents", st.Summary.Documents))
	parts = append(parts, fmt.Sprintf("%d requirements", st.Summary.Requirements))
	if st.Summary.Coverage != nil {
		parts = append(parts, fmt.Sprintf("coverage %.0f%%", *st.Summary.Coverage*100))
	}
	if st.Summary.ValidationStatus != "" {
		parts = append(parts, fmt.Sprintf("validation %s", st.Summary.ValidationStatus))
	}
	return strings.Join(parts, "; ")
}
