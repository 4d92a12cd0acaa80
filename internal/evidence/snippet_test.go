// SPDX-License-Identifier: Apache-2.0

package evidence_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/gemaraproj/registry-review/internal/review"
)

// ---------------------------------------------------------------------------
// Truncate
// ---------------------------------------------------------------------------

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short text unchanged", "Soil samples.", 40, "Soil samples."},
		{"cuts after last sentence end", "Samples were taken. Bulk density was measured in the lab.", 30, "Samples were taken."},
		{"falls back to word boundary", "Bulk density was measured carefully", 20, "Bulk density was"},
		{"splits a single long word", "Supercalifragilistic", 5, "Super"},
		{"zero limit", "anything", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evidence.Truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, utf8.RuneCountInString(got), max(tt.max, 0))
		})
	}
}

// ---------------------------------------------------------------------------
// Document citations
// ---------------------------------------------------------------------------

func TestDocument_PageAndSection(t *testing.T) {
	text := "# Project Plan\n\n" +
		evidence.PageMarker(1) + "\n\n## Location\nThe farm lies in the valley.\n\n" +
		evidence.PageMarker(2) + "\n\n## Soil Sampling\nSoil samples were collected in spring.\n"
	doc := evidence.NewDocument(review.Document{ID: "d1", Filename: "plan.md"}, text)

	at := strings.Index(text, "Soil samples")
	assert.Equal(t, 2, doc.PageAt(at))
	assert.Equal(t, "Soil Sampling", doc.SectionAt(at))

	at = strings.Index(text, "valley")
	assert.Equal(t, 1, doc.PageAt(at))
	assert.Equal(t, "Location", doc.SectionAt(at))
	assert.Equal(t, "Project Plan", doc.SectionAt(0))
}

func TestDocument_NoPages(t *testing.T) {
	doc := evidence.NewDocument(review.Document{ID: "d1"}, "no markers here")
	assert.Equal(t, 0, doc.PageAt(3))
	assert.Equal(t, "", doc.SectionAt(3))
}

// ---------------------------------------------------------------------------
// Snippeter
// ---------------------------------------------------------------------------

func TestSnippeter_BoundsAndOrder(t *testing.T) {
	filler := strings.Repeat("The grazing plan rotates cattle between paddocks every week. ", 30)
	text := "# Monitoring\n\n" + filler +
		"Soil samples were collected to measure bulk density and soil organic carbon. " +
		filler + "Bulk density cores were dried. " + filler
	doc := evidence.NewDocument(review.Document{ID: "d1", Filename: "monitoring.md"}, text)

	sn := evidence.Snippeter{WindowWords: 40, MaxChars: 200, PerDocument: 3}
	kw := []string{"soil samples", "bulk density", "organic carbon"}
	snippets := sn.Snippets(doc, kw)

	require.NotEmpty(t, snippets)
	assert.LessOrEqual(t, len(snippets), 3)
	for i, s := range snippets {
		assert.LessOrEqual(t, utf8.RuneCountInString(s.Text), 200, "snippet %d exceeds the limit", i)
		assert.Equal(t, "d1", s.DocumentID)
		assert.Equal(t, "monitoring.md", s.Filename)
		assert.Equal(t, "Monitoring", s.Section)
		assert.True(t, s.Verified)
		assert.Greater(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, snippets[i-1].Confidence, s.Confidence, "snippets are ordered by confidence")
		}
	}
	assert.Equal(t, 1.0, snippets[0].Confidence)
	assert.Contains(t, snippets[0].Text, "Soil samples were collected")
}

func TestSnippeter_NoMatches(t *testing.T) {
	doc := evidence.NewDocument(review.Document{ID: "d1"}, "Nothing relevant is written here.")
	sn := evidence.Snippeter{WindowWords: 10, MaxChars: 100, PerDocument: 3}
	assert.Empty(t, sn.Snippets(doc, []string{"land tenure"}))
	assert.Empty(t, sn.Snippets(doc, nil))
}

func TestSnippeter_DropsPageMarkers(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		keywords  []string
		wantStart string
		wantPage  int
	}{
		{
			name:      "marker inside the window",
			text:      "Land tenure is held by deed.\n" + evidence.PageMarker(2) + "\nThe lease runs to 2040.",
			keywords:  []string{"tenure", "lease"},
			wantStart: "Land tenure is held by deed.",
			wantPage:  1,
		},
		{
			name: "marker at the start of the window",
			text: evidence.PageMarker(1) + "\nThe soil organic carbon baseline was measured across every stratum of the farm.\n" +
				evidence.PageMarker(2) + "\nResults follow.",
			keywords:  []string{"soil organic carbon"},
			wantStart: "The soil organic carbon baseline",
			wantPage:  1,
		},
		{
			name:      "marker at the end of the window",
			text:      "# Plan\n\nBulk density was measured.\n" + evidence.PageMarker(3),
			keywords:  []string{"bulk density"},
			wantStart: "# Plan Bulk density was measured.",
			wantPage:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := evidence.NewDocument(review.Document{ID: "d1"}, tt.text)
			sn := evidence.Snippeter{WindowWords: 20, MaxChars: 300, PerDocument: 1}

			snippets := sn.Snippets(doc, tt.keywords)
			require.Len(t, snippets, 1)
			s := snippets[0]
			assert.True(t, strings.HasPrefix(s.Text, tt.wantStart), s.Text)
			assert.NotContains(t, s.Text, "Page")
			assert.NotContains(t, s.Text, "---")
			assert.Equal(t, tt.wantPage, s.Page)
			assert.True(t, s.Verified, "verbatim text across a page break is verified")
		})
	}
}

func TestDocument_ProseIsNotAPageMarker(t *testing.T) {
	text := evidence.PageMarker(1) + "\nIntro.\nPage 12 of the lease states the term.\n" + evidence.PageMarker(2) + "\nMore."
	doc := evidence.NewDocument(review.Document{ID: "d1"}, text)

	assert.Equal(t, 1, doc.PageAt(strings.Index(text, "of the lease")))
	assert.Equal(t, 2, doc.PageAt(strings.Index(text, "More")))
	assert.Equal(t, 2, evidence.CountPages(text))
}
