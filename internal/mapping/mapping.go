// SPDX-License-Identifier: Apache-2.0

// Package mapping scores the relevance of every session document to every
// requirement by keyword coverage and keeps the best candidates. Scoring is
// deterministic: equal scores keep document discovery order.
package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/keywords"
	"github.com/gemaraproj/registry-review/internal/review"
)

const (
	// occurrenceCap limits how much repeated mentions of one keyword count.
	occurrenceCap = 5
	densityWeight = 0.3
)

// NoMatchesNote is recorded on a mapping whose keywords occur in no document.
const NoMatchesNote = "no keyword matches in any document"

// DocumentText is a session document with its rendering text.
type DocumentText struct {
	Document review.Document
	Text     string
}

type indexedDocument struct {
	doc   review.Document
	index *keywords.Index
}

// Mapper builds requirement-to-document mappings.
type Mapper struct {
	cfg    config.MappingConfig
	logger *slog.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) {
		m.logger = logger
	}
}

// New creates a Mapper.
func New(cfg config.MappingConfig, opts ...Option) *Mapper {
	m := &Mapper{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Keywords returns the keyword set of a requirement.
func (m *Mapper) Keywords(r review.Requirement) []string {
	return keywords.Extract(m.cfg.MaxKeywords, r.Description, r.AcceptedEvidence)
}

// Map returns one Mapping per requirement, in requirement order. docs must be
// in discovery order.
func (m *Mapper) Map(ctx context.Context, reqs []review.Requirement, docs []DocumentText) ([]review.Mapping, error) {
	indexed := index(docs)

	concurrency := m.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	out := make([]review.Mapping, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, r := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = m.mapRequirement(r, indexed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("map requirements: %w", err)
	}

	empty := 0
	for _, mp := range out {
		if len(mp.Candidates) == 0 {
			empty++
		}
	}
	m.logger.Debug("requirements mapped", "requirements", len(reqs), "documents", len(docs), "unmatched", empty)
	return out, nil
}

func index(docs []DocumentText) []indexedDocument {
	indexed := make([]indexedDocument, len(docs))
	for i, d := range docs {
		indexed[i] = indexedDocument{doc: d.Document, index: keywords.NewIndex(d.Text)}
	}
	return indexed
}

func (m *Mapper) mapRequirement(r review.Requirement, docs []indexedDocument) review.Mapping {
	kw := m.Keywords(r)
	mapping := review.Mapping{RequirementID: r.ID, Keywords: kw, Candidates: []review.DocumentScore{}}

	for _, d := range docs {
		score, matched := Score(kw, d.index)
		if score <= 0 {
			continue
		}
		mapping.Candidates = append(mapping.Candidates, review.DocumentScore{
			DocumentID:      d.doc.ID,
			Filename:        d.doc.Filename,
			Score:           score,
			MatchedKeywords: matched,
		})
	}

	sort.SliceStable(mapping.Candidates, func(i, j int) bool {
		return mapping.Candidates[i].Score > mapping.Candidates[j].Score
	})
	if len(mapping.Candidates) > m.cfg.MaxCandidates {
		mapping.Candidates = mapping.Candidates[:m.cfg.MaxCandidates]
	}
	if len(mapping.Candidates) == 0 {
		mapping.Note = NoMatchesNote
	}
	return mapping
}

// Score rates one document against a keyword set:
// coverage = matched/total plus a density bonus of
// (sum of min(occurrences, 5)/5 over matched keywords)/total * 0.3,
// capped at 1.
func Score(kw []string, ix *keywords.Index) (float64, []string) {
	if len(kw) == 0 {
		return 0, nil
	}
	var matched []string
	density := 0.0
	for _, k := range kw {
		n := ix.Count(k)
		if n == 0 {
			continue
		}
		matched = append(matched, k)
		if n > occurrenceCap {
			n = occurrenceCap
		}
		density += float64(n) / occurrenceCap
	}
	total := float64(len(kw))
	score := float64(len(matched))/total + density/total*densityWeight
	if score > 1 {
		score = 1
	}
	return score, matched
}

// Correct builds a human-corrected mapping over the given documents, in the
// order given. Scores are recomputed for traceability; documents without
// matches keep a zero score.
func (m *Mapper) Correct(r review.Requirement, docs []DocumentText) review.Mapping {
	kw := m.Keywords(r)
	mapping := review.Mapping{RequirementID: r.ID, Keywords: kw, Corrected: true, Candidates: []review.DocumentScore{}}
	for _, d := range index(docs) {
		score, matched := Score(kw, d.index)
		mapping.Candidates = append(mapping.Candidates, review.DocumentScore{
			DocumentID:      d.doc.ID,
			Filename:        d.doc.Filename,
			Score:           score,
			MatchedKeywords: matched,
		})
	}
	if len(mapping.Candidates) == 0 {
		mapping.Note = "corrected to no documents"
	}
	return mapping
}
