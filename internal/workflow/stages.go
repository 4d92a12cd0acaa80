// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/gemaraproj/registry-review/internal/mapping"
	"github.com/gemaraproj/registry-review/internal/review"
	"github.com/gemaraproj/registry-review/internal/store"
)

func (c *Controller) requirements(sess *review.Session) ([]review.Requirement, error) {
	reqs, err := c.catalogs.Requirements(sess.Methodology, sess.Scope)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	return reqs, nil
}

func (c *Controller) documents(ctx context.Context, sessionID string) (*review.DocumentSet, error) {
	var set review.DocumentSet
	if err := c.store.GetArtifact(ctx, sessionID, store.KindDocuments, &set); err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	return &set, nil
}

// loadText returns a document rendering; unrenderable documents have none.
func (c *Controller) loadText(ctx context.Context, sessionID, documentID string) (string, error) {
	text, err := c.store.GetText(ctx, sessionID, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return text, err
}

func (c *Controller) documentTexts(ctx context.Context, sessionID string, docs []review.Document) ([]mapping.DocumentText, error) {
	out := make([]mapping.DocumentText, 0, len(docs))
	for _, d := range docs {
		text, err := c.loadText(ctx, sessionID, d.ID)
		if err != nil {
			return nil, fmt.Errorf("load text of %s: %w", d.Filename, err)
		}
		out = append(out, mapping.DocumentText{Document: d, Text: text})
	}
	return out, nil
}

// DiscoverDocuments ingests every document under source, replacing any
// previous discovery of this session.
func (c *Controller) DiscoverDocuments(ctx context.Context, sessionID, source string) ([]review.Document, error) {
	if source == "" {
		return nil, invalid("source is required")
	}

	var (
		set     review.DocumentSet
		written []string
		stale   []string
	)
	_, err := c.execute(ctx, sessionID, review.StageDocumentDiscovery, func(ctx context.Context, sess *review.Session, version int) (any, error) {
		if prev, err := c.documents(ctx, sessionID); err == nil {
			for _, d := range prev.Documents {
				stale = append(stale, d.ID)
			}
		}

		results, err := c.discoverer.Discover(ctx, source)
		if err != nil {
			return nil, err
		}
		set = review.DocumentSet{Version: version, Source: source, Documents: make([]review.Document, 0, len(results))}
		for _, r := range results {
			doc := r.Document
			if r.Text != "" {
				if err := c.store.PutText(ctx, sessionID, doc.ID, r.Text); err != nil {
					return nil, fmt.Errorf("store rendering of %s: %w", doc.RelPath, err)
				}
				written = append(written, doc.ID)
				doc.TextRef = store.TextRef(sessionID, doc.ID)
			}
			set.Documents = append(set.Documents, doc)
		}
		return set, nil
	})

	cleanup := stale
	if err != nil {
		cleanup = written
	}
	if len(cleanup) > 0 {
		if derr := c.store.DeleteText(context.WithoutCancel(ctx), sessionID, cleanup...); derr != nil {
			c.logger.Warn("could not delete document renderings", "session_id", sessionID, "error", derr)
		}
	}
	if err != nil {
		return nil, err
	}
	return set.Documents, nil
}

// MapRequirements scores every document against every requirement of the
// session.
func (c *Controller) MapRequirements(ctx context.Context, sessionID string) ([]review.Mapping, error) {
	var set review.MappingSet
	_, err := c.execute(ctx, sessionID, review.StageRequirementMapping, func(ctx context.Context, sess *review.Session, version int) (any, error) {
		reqs, err := c.requirements(sess)
		if err != nil {
			return nil, err
		}
		docs, err := c.documents(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		texts, err := c.documentTexts(ctx, sessionID, docs.Documents)
		if err != nil {
			return nil, err
		}
		mappings, err := c.mapper.Map(ctx, reqs, texts)
		if err != nil {
			return nil, err
		}
		set = review.MappingSet{Version: version, Mappings: mappings}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return set.Mappings, nil
}

// ExtractEvidence gathers snippets and structured fields for every mapped
// requirement.
func (c *Controller) ExtractEvidence(ctx context.Context, sessionID string) ([]review.RequirementEvidence, error) {
	var set review.EvidenceSet
	_, err := c.execute(ctx, sessionID, review.StageEvidenceExtraction, func(ctx context.Context, sess *review.Session, version int) (any, error) {
		reqs, err := c.requirements(sess)
		if err != nil {
			return nil, err
		}
		docs, err := c.documents(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		var mappings review.MappingSet
		if err := c.store.GetArtifact(ctx, sessionID, store.KindMappings, &mappings); err != nil {
			return nil, fmt.Errorf("load mappings: %w", err)
		}

		items, err := c.extractor.Extract(ctx, evidence.Request{
			Requirements: reqs,
			Mappings:     &mappings,
			Documents:    docs.Documents,
			Texts: evidence.TextLoaderFunc(func(ctx context.Context, documentID string) (string, error) {
				return c.loadText(ctx, sessionID, documentID)
			}),
		})
		if err != nil {
			return nil, err
		}
		set = review.EvidenceSet{Version: version, ExtractedAt: c.now().UTC(), Items: items}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return set.Items, nil
}

// Validate cross-checks the extracted evidence. Sparse evidence yields a
// report with status no_checks rather than an error.
func (c *Controller) Validate(ctx context.Context, sessionID string) (*review.ValidationReport, error) {
	var report *review.ValidationReport
	_, err := c.execute(ctx, sessionID, review.StageCrossValidation, func(ctx context.Context, sess *review.Session, version int) (any, error) {
		var set review.EvidenceSet
		if err := c.store.GetArtifact(ctx, sessionID, store.KindEvidence, &set); err != nil {
			return nil, fmt.Errorf("load evidence: %w", err)
		}
		r, err := c.validator.Validate(ctx, set.Items)
		if err != nil {
			return nil, err
		}
		r.Version = version
		report = r
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// GenerateReport assembles the serializable review report.
func (c *Controller) GenerateReport(ctx context.Context, sessionID string) (*review.Report, error) {
	var report *review.Report
	_, err := c.execute(ctx, sessionID, review.StageReportGeneration, func(ctx context.Context, sess *review.Session, version int) (any, error) {
		reqs, err := c.requirements(sess)
		if err != nil {
			return nil, err
		}
		var set review.EvidenceSet
		if err := c.store.GetArtifact(ctx, sessionID, store.KindEvidence, &set); err != nil {
			return nil, fmt.Errorf("load evidence: %w", err)
		}
		var validation review.ValidationReport
		if err := c.store.GetArtifact(ctx, sessionID, store.KindValidation, &validation); err != nil {
			return nil, fmt.Errorf("load validation: %w", err)
		}
		report = buildReport(sess, reqs, &set, &validation)
		report.Version = version
		report.GeneratedAt = c.now().UTC()
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// SubmitReview records the reviewer's decisions.
func (c *Controller) SubmitReview(ctx context.Context, sessionID, reviewer string, decisions []review.Decision) (*review.Review, error) {
	var rv *review.Review
	_, err := c.execute(ctx, sessionID, review.StageHumanReview, func(ctx context.Context, sess *review.Session, version int) (any, error) {
		var set review.EvidenceSet
		if err := c.store.GetArtifact(ctx, sessionID, store.KindEvidence, &set); err != nil {
			return nil, fmt.Errorf("load evidence: %w", err)
		}
		known := make(map[string]bool, len(set.Items))
		for _, item := range set.Items {
			known[item.RequirementID] = true
		}
		seen := make(map[string]bool, len(decisions))
		for _, d := range decisions {
			if !known[d.RequirementID] {
				return nil, invalid("unknown requirement %q", d.RequirementID)
			}
			if seen[d.RequirementID] {
				return nil, invalid("duplicate decision for %s", d.RequirementID)
			}
			seen[d.RequirementID] = true
			switch d.Status {
			case "", review.StatusCovered, review.StatusPartial, review.StatusMissing, review.StatusFlagged:
			default:
				return nil, invalid("decision for %s has unknown status %q", d.RequirementID, d.Status)
			}
		}
		rv = &review.Review{
			Version:    version,
			Reviewer:   reviewer,
			ReviewedAt: c.now().UTC(),
			Decisions:  append([]review.Decision{}, decisions...),
		}
		return rv, nil
	})
	if err != nil {
		return nil, err
	}
	return rv, nil
}

// ---------------------------------------------------------------------------
// Corrections
// ---------------------------------------------------------------------------

// correct applies a human correction to a completed stage's artifact,
// bumping its version and invalidating the stages after it.
func (c *Controller) correct(ctx context.Context, sessionID string, stage review.Stage, apply func(ctx context.Context, sess *review.Session, tx *store.Tx, version int) error) error {
	lock := c.lockFor(sessionID)
	lock.cancelFrom(stage.Downstream()[0])
	lock.mu.Lock()
	defer lock.mu.Unlock()

	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsComplete(stage) {
		return &StageDependencyError{Stage: stage.Downstream()[0], Missing: []review.Stage{stage}}
	}

	return c.store.Update(ctx, func(tx *store.Tx) error {
		current, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		version := current.Versions[stage] + 1
		if err := apply(ctx, current, tx, version); err != nil {
			return err
		}
		if err := c.invalidate(tx, current, stage.Downstream()); err != nil {
			return err
		}
		c.markComplete(current, stage, version)
		return tx.PutSession(current)
	})
}

// CorrectMapping replaces the candidates of one requirement with the given
// documents, in the given order.
func (c *Controller) CorrectMapping(ctx context.Context, sessionID, requirementID string, documentIDs []string) (review.Mapping, error) {
	var corrected review.Mapping
	err := c.correct(ctx, sessionID, review.StageRequirementMapping, func(ctx context.Context, sess *review.Session, tx *store.Tx, version int) error {
		var req review.Requirement
		reqs, err := c.requirements(sess)
		if err != nil {
			return err
		}
		found := false
		for _, r := range reqs {
			if r.ID == requirementID {
				req, found = r, true
				break
			}
		}
		if !found {
			return invalid("requirement %q is not part of this session", requirementID)
		}

		var docs review.DocumentSet
		if err := tx.GetArtifact(sess.ID, store.KindDocuments, &docs); err != nil {
			return fmt.Errorf("load documents: %w", err)
		}
		var selected []review.Document
		seen := make(map[string]bool, len(documentIDs))
		for _, id := range documentIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			d, ok := docs.Find(id)
			if !ok {
				return invalid("unknown document %q", id)
			}
			selected = append(selected, d)
		}
		texts, err := c.documentTexts(ctx, sess.ID, selected)
		if err != nil {
			return err
		}

		var set review.MappingSet
		if err := tx.GetArtifact(sess.ID, store.KindMappings, &set); err != nil {
			return fmt.Errorf("load mappings: %w", err)
		}
		corrected = c.mapper.Correct(req, texts)
		replaced := false
		for i := range set.Mappings {
			if set.Mappings[i].RequirementID == requirementID {
				set.Mappings[i] = corrected
				replaced = true
			}
		}
		if !replaced {
			set.Mappings = append(set.Mappings, corrected)
		}
		set.Version = version
		return tx.PutArtifact(sess.ID, store.KindMappings, set)
	})
	if err != nil {
		return review.Mapping{}, err
	}
	c.logger.Info("mapping corrected", "session_id", sessionID, "requirement_id", requirementID, "documents", len(corrected.Candidates))
	return corrected, nil
}

// ReclassifyDocument records a human correction of a document's type.
func (c *Controller) ReclassifyDocument(ctx context.Context, sessionID, documentID string, docType review.DocumentType) (review.Document, error) {
	if !review.ValidDocumentType(docType) {
		return review.Document{}, invalid("unknown document type %q", docType)
	}
	var updated review.Document
	err := c.correct(ctx, sessionID, review.StageDocumentDiscovery, func(_ context.Context, sess *review.Session, tx *store.Tx, version int) error {
		var set review.DocumentSet
		if err := tx.GetArtifact(sess.ID, store.KindDocuments, &set); err != nil {
			return fmt.Errorf("load documents: %w", err)
		}
		found := false
		for i := range set.Documents {
			if set.Documents[i].ID == documentID {
				set.Documents[i].Type = docType
				set.Documents[i].Reclassified = true
				set.Documents[i].MatchSource = "manual"
				set.Documents[i].MatchedPattern = ""
				updated = set.Documents[i]
				found = true
			}
		}
		if !found {
			return invalid("unknown document %q", documentID)
		}
		set.Version = version
		return tx.PutArtifact(sess.ID, store.KindDocuments, set)
	})
	if err != nil {
		return review.Document{}, err
	}
	c.logger.Info("document reclassified", "session_id", sessionID, "document", updated.Filename, "type", docType)
	return updated, nil
}
