// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/keywords"
	"github.com/gemaraproj/registry-review/internal/oracle"
	"github.com/gemaraproj/registry-review/internal/review"
)

// Completer is the oracle used for structured field extraction.
type Completer interface {
	Available() bool
	Complete(ctx context.Context, req oracle.Request) (oracle.Response, error)
}

// TextLoader returns the rendering text of a document.
type TextLoader interface {
	LoadText(ctx context.Context, documentID string) (string, error)
}

// TextLoaderFunc adapts a function to TextLoader.
type TextLoaderFunc func(ctx context.Context, documentID string) (string, error)

func (f TextLoaderFunc) LoadText(ctx context.Context, documentID string) (string, error) {
	return f(ctx, documentID)
}

// Request is the input of one extraction run.
type Request struct {
	Requirements []review.Requirement
	// Mappings is nil when requirement mapping has not completed.
	Mappings  *review.MappingSet
	Documents []review.Document
	Texts     TextLoader
}

// Extractor produces RequirementEvidence from confirmed mappings.
type Extractor struct {
	cfg       config.ExtractionConfig
	snippeter Snippeter
	verifier  *Verifier
	fields    *FieldMapper
	oracle    Completer
	logger    *slog.Logger
	observe   func(result string)
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithOracle enables oracle field extraction when cfg.UseOracle is set and
// the oracle is available.
func WithOracle(c Completer) ExtractorOption {
	return func(e *Extractor) {
		e.oracle = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithVerificationObserver receives the outcome of every field check
// ("verified", "unverified", "rejected", "filtered").
func WithVerificationObserver(fn func(result string)) ExtractorOption {
	return func(e *Extractor) {
		e.observe = fn
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg config.ExtractionConfig, verification config.VerificationConfig, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		cfg: cfg,
		snippeter: Snippeter{
			WindowWords: cfg.WindowWords,
			MaxChars:    cfg.MaxSnippetChars,
			PerDocument: cfg.MaxSnippetsPerDocument,
		},
		verifier: NewVerifier(verification),
		fields:   NewFieldMapper(),
		logger:   slog.Default(),
		observe:  func(string) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns one RequirementEvidence per requirement, in requirement
// order. Per-requirement failures are recorded as flagged items; only a
// fatal oracle error or cancellation aborts the run.
func (e *Extractor) Extract(ctx context.Context, req Request) ([]review.RequirementEvidence, error) {
	docs := make(map[string]review.Document, len(req.Documents))
	filenames := make([]string, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs[d.ID] = d
		filenames = append(filenames, d.Filename)
	}
	run := &extraction{
		req:   req,
		docs:  docs,
		noise: NewNoiseFilter(filenames),
		cache: newDocCache(req.Texts),
	}

	concurrency := e.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]review.RequirementEvidence, len(req.Requirements))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, r := range req.Requirements {
		g.Go(func() error {
			item, err := e.extractRequirement(gctx, run, r)
			if err != nil {
				return fmt.Errorf("requirement %s: %w", r.ID, err)
			}
			results[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type extraction struct {
	req   Request
	docs  map[string]review.Document
	noise *NoiseFilter
	cache *docCache
}

func (e *Extractor) extractRequirement(ctx context.Context, run *extraction, r review.Requirement) (review.RequirementEvidence, error) {
	ev := review.RequirementEvidence{RequirementID: r.ID, Status: review.StatusMissing}
	if run.req.Mappings == nil {
		ev.Notes = append(ev.Notes, "requirement mapping has not completed; extraction skipped")
		return ev, nil
	}
	m, ok := run.req.Mappings.Find(r.ID)
	if !ok {
		ev.Notes = append(ev.Notes, "no mapping exists for this requirement")
		return ev, nil
	}
	ev.Mapping = m
	if len(m.Candidates) == 0 {
		note := "no documents mapped"
		if m.Note != "" {
			note = m.Note
		}
		ev.Notes = append(ev.Notes, note)
		return ev, nil
	}

	kw := m.Keywords
	if len(kw) == 0 {
		kw = keywords.Extract(keywords.DefaultMax, r.Description, r.AcceptedEvidence)
	}

	failed := false
	var mapped []*Document
	var snippets []review.EvidenceSnippet
	for _, cand := range m.Candidates {
		if err := ctx.Err(); err != nil {
			return ev, err
		}
		meta, ok := run.docs[cand.DocumentID]
		if !ok {
			ev.Notes = append(ev.Notes, fmt.Sprintf("mapped document %s is not part of the session", cand.DocumentID))
			failed = true
			continue
		}
		if meta.RenderError != "" {
			ev.Notes = append(ev.Notes, fmt.Sprintf("%s has no text rendering: %s", meta.Filename, meta.RenderError))
		}
		doc, err := run.cache.get(ctx, meta)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ev, ctxErr
			}
			e.logger.Warn("failed to load document text",
				"requirement_id", r.ID,
				"document", meta.Filename,
				"error", err)
			ev.Notes = append(ev.Notes, fmt.Sprintf("could not load text of %s: %v", meta.Filename, err))
			failed = true
			continue
		}
		mapped = append(mapped, doc)
		snippets = append(snippets, e.snippeter.Snippets(doc, kw)...)
	}

	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].Confidence > snippets[j].Confidence
	})
	if limit := e.cfg.MaxSnippetsPerRequirement; limit > 0 && len(snippets) > limit {
		snippets = snippets[:limit]
	}
	ev.Snippets = snippets

	if len(r.Fields) > 0 && len(mapped) > 0 {
		fields, notes, err := e.extractFields(ctx, run, r, mapped)
		ev.Fields = fields
		ev.Notes = append(ev.Notes, notes...)
		if err != nil {
			if oracle.IsFatal(err) || ctx.Err() != nil {
				return ev, err
			}
			e.logger.Warn("oracle field extraction failed", "requirement_id", r.ID, "error", err)
			ev.Notes = append(ev.Notes, fmt.Sprintf("oracle field extraction failed: %v", err))
			failed = true
		}
	}

	if len(snippets) > 0 {
		ev.Confidence = snippets[0].Confidence
	} else {
		ev.Notes = append(ev.Notes, "no keyword matches in mapped documents")
	}
	ev.Status = review.Classify(ev.Confidence)
	if failed {
		ev.Status = review.StatusFlagged
	}
	return ev, nil
}

// docCache renders each document's index once per run; requirements share it.
// Concurrent first loads of one document are collapsed into a single
// LoadText call, and loads of different documents run in parallel.
type docCache struct {
	loader TextLoader
	flight singleflight.Group

	mu   sync.Mutex
	docs map[string]*Document
	errs map[string]error
}

func newDocCache(loader TextLoader) *docCache {
	return &docCache{loader: loader, docs: make(map[string]*Document), errs: make(map[string]error)}
}

func (c *docCache) lookup(id string) (*Document, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.docs[id]; ok {
		return d, true, nil
	}
	if err, ok := c.errs[id]; ok {
		return nil, true, err
	}
	return nil, false, nil
}

func (c *docCache) get(ctx context.Context, meta review.Document) (*Document, error) {
	if d, ok, err := c.lookup(meta.ID); ok {
		return d, err
	}
	if c.loader == nil {
		return nil, errors.New("no text source configured")
	}

	v, err, _ := c.flight.Do(meta.ID, func() (interface{}, error) {
		if d, ok, err := c.lookup(meta.ID); ok {
			return d, err
		}
		text, err := c.loader.LoadText(ctx, meta.ID)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			if ctx.Err() == nil {
				c.errs[meta.ID] = err
			}
			return nil, err
		}
		d := NewDocument(meta, text)
		c.docs[meta.ID] = d
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}
