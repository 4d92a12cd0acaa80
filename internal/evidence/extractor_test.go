// SPDX-License-Identifier: Apache-2.0

package evidence_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/gemaraproj/registry-review/internal/oracle"
	"github.com/gemaraproj/registry-review/internal/review"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const planText = "# Project Plan\n\n" +
	"## Registration\n\nThe project is registered under Project ID: C06-4997. " +
	"The project start date is 1 March 2021.\n\n" +
	"## Documents submitted\n\nDocuments submitted: 4997Botany22_Project_Plan.pdf, Project ID 4997.\n"

type fixture struct {
	docs  []review.Document
	texts map[string]string
}

func newFixture() fixture {
	return fixture{
		docs: []review.Document{
			{ID: "doc-plan", Filename: "4997Botany22_Project_Plan.md", Type: review.DocProjectPlan},
			{ID: "doc-tenure", Filename: "Land_Tenure.md", Type: review.DocLandTenure},
		},
		texts: map[string]string{
			"doc-plan":   planText,
			"doc-tenure": "# Land Tenure\n\nThe land owner is Jane Smith. The title deed covers 120 ha.\n",
		},
	}
}

func (f fixture) loader() evidence.TextLoader {
	return evidence.TextLoaderFunc(func(_ context.Context, id string) (string, error) {
		text, ok := f.texts[id]
		if !ok {
			return "", fmt.Errorf("no text for %s", id)
		}
		return text, nil
	})
}

func mapping(reqID string, keywords []string, docIDs ...string) review.Mapping {
	m := review.Mapping{RequirementID: reqID, Keywords: keywords}
	for _, id := range docIDs {
		m.Candidates = append(m.Candidates, review.DocumentScore{DocumentID: id, Score: 1})
	}
	return m
}

type fakeOracle struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeOracle) Available() bool { return true }

func (f *fakeOracle) Complete(_ context.Context, _ oracle.Request) (oracle.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return oracle.Response{}, f.err
	}
	return oracle.Response{Text: f.reply, Transport: "fake"}, nil
}

func newExtractor(opts ...evidence.ExtractorOption) *evidence.Extractor {
	cfg := config.Default()
	return evidence.NewExtractor(cfg.Extraction, cfg.Verification, opts...)
}

func fieldValues(fields []review.ExtractedField, name string) []string {
	var out []string
	for _, f := range fields {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Extractor
// ---------------------------------------------------------------------------

func TestExtractor_SnippetsAndVerifiedFields(t *testing.T) {
	fx := newFixture()
	reqs := []review.Requirement{
		{ID: "REQ-001", Description: "Project registration", Fields: []string{review.FieldProjectID, review.FieldProjectStartDate}},
		{ID: "REQ-002", Description: "Land tenure", Fields: []string{review.FieldOwnerName, review.FieldLandArea}},
	}
	mappings := &review.MappingSet{Mappings: []review.Mapping{
		mapping("REQ-001", []string{"project id", "registered"}, "doc-plan"),
		mapping("REQ-002", []string{"land owner", "title deed"}, "doc-tenure"),
	}}

	var mu sync.Mutex
	observed := map[string]int{}
	ex := newExtractor(evidence.WithVerificationObserver(func(result string) {
		mu.Lock()
		observed[result]++
		mu.Unlock()
	}))

	items, err := ex.Extract(context.Background(), evidence.Request{
		Requirements: reqs,
		Mappings:     mappings,
		Documents:    fx.docs,
		Texts:        fx.loader(),
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	reg := items[0]
	assert.Equal(t, "REQ-001", reg.RequirementID)
	assert.Equal(t, review.StatusCovered, reg.Status)
	require.NotEmpty(t, reg.Snippets)
	assert.Equal(t, "Registration", reg.Snippets[0].Section)
	assert.Equal(t, []string{"C06-4997"}, fieldValues(reg.Fields, review.FieldProjectID))
	assert.Equal(t, []string{"2021-03-01"}, fieldValues(reg.Fields, review.FieldProjectStartDate))
	for _, f := range reg.Fields {
		assert.True(t, f.Verified, "%s should verify against its quote", f.Name)
		assert.Equal(t, review.FieldFromPattern, f.Source)
		assert.Equal(t, "doc-plan", f.DocumentID)
	}
	assert.NotContains(t, fieldValues(reg.Fields, review.FieldProjectID), "4997")

	tenure := items[1]
	assert.Equal(t, []string{"Jane Smith"}, fieldValues(tenure.Fields, review.FieldOwnerName))
	assert.Equal(t, []string{"120 ha"}, fieldValues(tenure.Fields, review.FieldLandArea))

	assert.Positive(t, observed["verified"])
	assert.Positive(t, observed["filtered"], "the filename prefix and document list must be filtered")
}

func TestExtractor_MissingAndFlagged(t *testing.T) {
	fx := newFixture()
	reqs := []review.Requirement{
		{ID: "REQ-010", Description: "Unmapped requirement"},
		{ID: "REQ-011", Description: "Empty mapping"},
		{ID: "REQ-012", Description: "Unknown document"},
		{ID: "REQ-013", Description: "Unreadable document"},
	}
	fx.docs = append(fx.docs, review.Document{ID: "doc-lost", Filename: "lost.md"})
	mappings := &review.MappingSet{Mappings: []review.Mapping{
		{RequirementID: "REQ-011", Note: "no document scored above zero"},
		mapping("REQ-012", []string{"anything"}, "doc-ghost"),
		mapping("REQ-013", []string{"anything"}, "doc-lost"),
	}}

	items, err := newExtractor().Extract(context.Background(), evidence.Request{
		Requirements: reqs,
		Mappings:     mappings,
		Documents:    fx.docs,
		Texts:        fx.loader(),
	})
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, review.StatusMissing, items[0].Status)
	assert.Contains(t, items[0].Notes, "no mapping exists for this requirement")

	assert.Equal(t, review.StatusMissing, items[1].Status)
	assert.Contains(t, items[1].Notes, "no document scored above zero")

	assert.Equal(t, review.StatusFlagged, items[2].Status)
	assert.Contains(t, items[2].Notes[0], "not part of the session")

	assert.Equal(t, review.StatusFlagged, items[3].Status)
	assert.Contains(t, items[3].Notes[0], "could not load text of lost.md")
}

func TestExtractor_WithoutMappings(t *testing.T) {
	items, err := newExtractor().Extract(context.Background(), evidence.Request{
		Requirements: []review.Requirement{{ID: "REQ-001"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, review.StatusMissing, items[0].Status)
	assert.Contains(t, items[0].Notes[0], "requirement mapping has not completed")
}

func TestExtractor_OracleFields(t *testing.T) {
	fx := newFixture()
	reqs := []review.Requirement{{ID: "REQ-002", Description: "Land tenure", Fields: []string{review.FieldOwnerName}}}
	mappings := &review.MappingSet{Mappings: []review.Mapping{
		mapping("REQ-002", []string{"land owner"}, "doc-tenure"),
	}}

	fake := &fakeOracle{reply: "```json\n" + `{"fields": [
		{"field": "owner_name", "value": "Jane Smith", "raw_text": "The land owner is Jane Smith.", "document": "Land_Tenure.md", "confidence": 0.9},
		{"field": "owner_name", "value": "Zebulon Quartz", "raw_text": "Owned by Zebulon Quartz.", "document": "Land_Tenure.md", "confidence": 0.9},
		{"field": "owner_name", "value": "Jane Smith", "raw_text": "The land owner is Jane Smith.", "document": "other.md", "confidence": 0.9},
		{"field": "project_id", "value": "C06-4997", "raw_text": "x", "document": "Land_Tenure.md"}
	]}` + "\n```"}

	cfg := config.Default()
	cfg.Extraction.UseOracle = true
	ex := evidence.NewExtractor(cfg.Extraction, cfg.Verification, evidence.WithOracle(fake))

	items, err := ex.Extract(context.Background(), evidence.Request{
		Requirements: reqs,
		Mappings:     mappings,
		Documents:    fx.docs,
		Texts:        fx.loader(),
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, fake.calls)

	owners := items[0].Fields
	require.NotEmpty(t, owners)
	for _, f := range owners {
		assert.Equal(t, "Jane Smith", f.Value, "fabricated and undeclared values must not survive")
	}
	assert.Contains(t, joinNotes(items[0].Notes), `rejected owner_name="Zebulon Quartz"`)
	assert.Contains(t, joinNotes(items[0].Notes), `cited document "other.md" is not mapped`)
}

func TestExtractor_RejectsOracleDateAbsentFromDocument(t *testing.T) {
	docs := []review.Document{{ID: "doc-sampling", Filename: "Sampling.md", Type: review.DocSamplingReport}}
	texts := evidence.TextLoaderFunc(func(context.Context, string) (string, error) {
		return "# Sampling\n\nSoil samples were collected across all strata by the field team.\n", nil
	})
	reqs := []review.Requirement{{ID: "REQ-009", Description: "Soil sampling", Fields: []string{review.FieldSamplingDate}}}
	mappings := &review.MappingSet{Mappings: []review.Mapping{
		mapping("REQ-009", []string{"soil samples"}, "doc-sampling"),
	}}
	fake := &fakeOracle{reply: `{"fields": [
		{"field": "sampling_date", "value": "2022-06-15", "raw_text": "Soil samples were collected on 15 June 2022.", "document": "Sampling.md", "confidence": 0.9}
	]}`}

	cfg := config.Default()
	cfg.Extraction.UseOracle = true
	ex := evidence.NewExtractor(cfg.Extraction, cfg.Verification, evidence.WithOracle(fake))

	items, err := ex.Extract(context.Background(), evidence.Request{
		Requirements: reqs,
		Mappings:     mappings,
		Documents:    docs,
		Texts:        texts,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].Fields)
	assert.Contains(t, joinNotes(items[0].Notes), `rejected sampling_date="2022-06-15": not found in Sampling.md`)
}

func TestExtractor_OracleFailures(t *testing.T) {
	fx := newFixture()
	reqs := []review.Requirement{{ID: "REQ-002", Description: "Land tenure", Fields: []string{review.FieldOwnerName}}}
	mappings := &review.MappingSet{Mappings: []review.Mapping{
		mapping("REQ-002", []string{"land owner"}, "doc-tenure"),
	}}
	cfg := config.Default()
	cfg.Extraction.UseOracle = true

	t.Run("transient failure flags the requirement", func(t *testing.T) {
		fake := &fakeOracle{err: oracle.NewTransientError("fake", errors.New("rate limited"))}
		ex := evidence.NewExtractor(cfg.Extraction, cfg.Verification, evidence.WithOracle(fake))
		items, err := ex.Extract(context.Background(), evidence.Request{
			Requirements: reqs, Mappings: mappings, Documents: fx.docs, Texts: fx.loader(),
		})
		require.NoError(t, err)
		assert.Equal(t, review.StatusFlagged, items[0].Status)
		assert.Equal(t, []string{"Jane Smith"}, fieldValues(items[0].Fields, review.FieldOwnerName), "pattern fields are kept")
	})

	t.Run("fatal failure aborts the run", func(t *testing.T) {
		fake := &fakeOracle{err: oracle.NewFatalError(oracle.KindBilling, "fake", errors.New("insufficient credit"))}
		ex := evidence.NewExtractor(cfg.Extraction, cfg.Verification, evidence.WithOracle(fake))
		_, err := ex.Extract(context.Background(), evidence.Request{
			Requirements: reqs, Mappings: mappings, Documents: fx.docs, Texts: fx.loader(),
		})
		require.Error(t, err)
		assert.True(t, oracle.IsFatal(err))
	})
}

func TestExtractor_Cancelled(t *testing.T) {
	fx := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newExtractor().Extract(ctx, evidence.Request{
		Requirements: []review.Requirement{{ID: "REQ-001"}},
		Mappings:     &review.MappingSet{Mappings: []review.Mapping{mapping("REQ-001", []string{"project"}, "doc-plan")}},
		Documents:    fx.docs,
		Texts:        fx.loader(),
	})
	require.ErrorIs(t, err, context.Canceled)
}

// gatedLoader blocks every first load of a document until two different
// documents are being loaded at the same time.
type gatedLoader struct {
	texts map[string]string

	mu      sync.Mutex
	calls   map[string]int
	both    chan struct{}
	arrived int
}

func newGatedLoader(texts map[string]string) *gatedLoader {
	return &gatedLoader{texts: texts, calls: make(map[string]int), both: make(chan struct{})}
}

func (g *gatedLoader) LoadText(ctx context.Context, id string) (string, error) {
	g.mu.Lock()
	g.calls[id]++
	if g.calls[id] == 1 {
		g.arrived++
		if g.arrived == 2 {
			close(g.both)
		}
	}
	g.mu.Unlock()

	select {
	case <-g.both:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(2 * time.Second):
		return "", fmt.Errorf("load of %s never overlapped with another document", id)
	}
	return g.texts[id], nil
}

func TestExtractor_LoadsDocumentsConcurrentlyAndOnce(t *testing.T) {
	fx := newFixture()
	loader := newGatedLoader(fx.texts)
	reqs := []review.Requirement{
		{ID: "REQ-001", Description: "Project registration"},
		{ID: "REQ-002", Description: "Land tenure"},
		{ID: "REQ-003", Description: "Project registration again"},
		{ID: "REQ-004", Description: "Land tenure again"},
	}
	mappings := &review.MappingSet{Mappings: []review.Mapping{
		mapping("REQ-001", []string{"project id"}, "doc-plan"),
		mapping("REQ-002", []string{"land owner"}, "doc-tenure"),
		mapping("REQ-003", []string{"project id"}, "doc-plan"),
		mapping("REQ-004", []string{"land owner"}, "doc-tenure"),
	}}

	items, err := newExtractor().Extract(context.Background(), evidence.Request{
		Requirements: reqs,
		Mappings:     mappings,
		Documents:    fx.docs,
		Texts:        loader,
	})
	require.NoError(t, err)
	require.Len(t, items, 4)
	for _, item := range items {
		assert.NotEqual(t, review.StatusFlagged, item.Status, "%s: %v", item.RequirementID, item.Notes)
	}
	assert.Equal(t, map[string]int{"doc-plan": 1, "doc-tenure": 1}, loader.calls)
}

func joinNotes(notes []string) string {
	out := ""
	for _, n := range notes {
		out += n + "\n"
	}
	return out
}
