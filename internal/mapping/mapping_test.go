// SPDX-License-Identifier: Apache-2.0

package mapping_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/keywords"
	"github.com/gemaraproj/registry-review/internal/mapping"
	"github.com/gemaraproj/registry-review/internal/review"
)

func doc(id, filename, text string) mapping.DocumentText {
	return mapping.DocumentText{
		Document: review.Document{ID: id, Filename: filename},
		Text:     text,
	}
}

var tenureRequirement = review.Requirement{
	ID:               "REQ-002",
	Description:      "Land tenure documentation",
	AcceptedEvidence: "Title deed or lease",
}

// ---------------------------------------------------------------------------
// Score
// ---------------------------------------------------------------------------

func TestScore(t *testing.T) {
	tests := []struct {
		name        string
		keywords    []string
		text        string
		wantScore   float64
		wantMatched []string
	}{
		{
			name:        "partial coverage with density bonus",
			keywords:    []string{"soil", "carbon", "tenure"},
			text:        "soil",
			wantScore:   1.0/3 + (1.0/5)/3*0.3,
			wantMatched: []string{"soil"},
		},
		{
			name:        "repeated mentions are capped",
			keywords:    []string{"soil", "tenure"},
			text:        "soil soil soil soil soil soil soil soil",
			wantScore:   0.5 + 1.0/2*0.3,
			wantMatched: []string{"soil"},
		},
		{
			name:        "score is capped at one",
			keywords:    []string{"soil", "carbon"},
			text:        "soil carbon soil carbon",
			wantScore:   1,
			wantMatched: []string{"soil", "carbon"},
		},
		{
			name:     "no keywords",
			keywords: nil,
			text:     "soil",
		},
		{
			name:     "no matches",
			keywords: []string{"tenure"},
			text:     "soil carbon",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, matched := mapping.Score(tt.keywords, keywords.NewIndex(tt.text))
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			assert.Equal(t, tt.wantMatched, matched)
		})
	}
}

// ---------------------------------------------------------------------------
// Mapper
// ---------------------------------------------------------------------------

func TestMapper_Map(t *testing.T) {
	m := mapping.New(config.Default().Mapping)
	reqs := []review.Requirement{
		tenureRequirement,
		{ID: "REQ-099", Description: "Quantum entanglement"},
	}
	docs := []mapping.DocumentText{
		doc("doc-plan", "Project_Plan.md", "Project plan describing the farm."),
		doc("doc-tenure", "Land_Tenure.md", "Land tenure documentation: the title deed is attached. Land tenure is freehold."),
	}

	mappings, err := m.Map(context.Background(), reqs, docs)
	require.NoError(t, err)
	require.Len(t, mappings, 2)

	tenure := mappings[0]
	assert.Equal(t, "REQ-002", tenure.RequirementID)
	assert.Contains(t, tenure.Keywords, "land tenure")
	require.Len(t, tenure.Candidates, 1)
	assert.Equal(t, "doc-tenure", tenure.Candidates[0].DocumentID)
	assert.Equal(t, "Land_Tenure.md", tenure.Candidates[0].Filename)
	assert.Contains(t, tenure.Candidates[0].MatchedKeywords, "title deed")
	assert.Empty(t, tenure.Note)

	unmatched := mappings[1]
	assert.Equal(t, "REQ-099", unmatched.RequirementID)
	assert.NotNil(t, unmatched.Candidates)
	assert.Empty(t, unmatched.Candidates)
	assert.Equal(t, mapping.NoMatchesNote, unmatched.Note)
}

func TestMapper_TiesKeepDiscoveryOrder(t *testing.T) {
	cfg := config.Default().Mapping
	text := "Land tenure documentation with a title deed."
	docs := []mapping.DocumentText{
		doc("doc-b", "b.md", text),
		doc("doc-a", "a.md", text),
		doc("doc-c", "c.md", text),
	}

	mappings, err := mapping.New(cfg).Map(context.Background(), []review.Requirement{tenureRequirement}, docs)
	require.NoError(t, err)
	var ids []string
	for _, c := range mappings[0].Candidates {
		ids = append(ids, c.DocumentID)
	}
	assert.Equal(t, []string{"doc-b", "doc-a", "doc-c"}, ids)

	cfg.MaxCandidates = 2
	mappings, err = mapping.New(cfg).Map(context.Background(), []review.Requirement{tenureRequirement}, docs)
	require.NoError(t, err)
	assert.Len(t, mappings[0].Candidates, 2)
}

func TestMapper_Deterministic(t *testing.T) {
	m := mapping.New(config.Default().Mapping)
	docs := []mapping.DocumentText{
		doc("doc-1", "one.md", "Land tenure records and a lease."),
		doc("doc-2", "two.md", "The title deed covers the land."),
	}
	first, err := m.Map(context.Background(), []review.Requirement{tenureRequirement}, docs)
	require.NoError(t, err)
	second, err := m.Map(context.Background(), []review.Requirement{tenureRequirement}, docs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMapper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mapping.New(config.Default().Mapping).Map(ctx, []review.Requirement{tenureRequirement}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMapper_Correct(t *testing.T) {
	m := mapping.New(config.Default().Mapping)

	corrected := m.Correct(tenureRequirement, []mapping.DocumentText{
		doc("doc-plan", "Project_Plan.md", "Project plan describing the farm."),
		doc("doc-tenure", "Land_Tenure.md", "Land tenure documentation."),
	})
	assert.True(t, corrected.Corrected)
	require.Len(t, corrected.Candidates, 2)
	assert.Equal(t, "doc-plan", corrected.Candidates[0].DocumentID, "corrections keep the given order")
	assert.Zero(t, corrected.Candidates[0].Score)
	assert.Positive(t, corrected.Candidates[1].Score)

	empty := m.Correct(tenureRequirement, nil)
	assert.True(t, empty.Corrected)
	assert.Empty(t, empty.Candidates)
	assert.Equal(t, "corrected to no documents", empty.Note)
}
