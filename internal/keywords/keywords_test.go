// SPDX-License-Identifier: Apache-2.0

package keywords_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gemaraproj/registry-review/internal/keywords"
)

func TestWords(t *testing.T) {
	words := keywords.Words("Soil-carbon, 2021!")
	assert.Equal(t, []keywords.Word{
		{Text: "soil", Start: 0, End: 4},
		{Text: "carbon", Start: 5, End: 11},
		{Text: "2021", Start: 13, End: 17},
	}, words)
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		max   int
		texts []string
		want  []string
	}{
		{
			name:  "unigrams then phrases",
			max:   20,
			texts: []string{"Land tenure documentation. Proof of ownership"},
			want: []string{
				"land", "tenure", "documentation", "proof", "ownership",
				"land tenure", "tenure documentation",
				"land tenure documentation", "proof of ownership",
			},
		},
		{
			name:  "capped",
			max:   3,
			texts: []string{"Land tenure documentation. Proof of ownership"},
			want:  []string{"land", "tenure", "documentation"},
		},
		{
			name:  "deduplicated across texts",
			max:   20,
			texts: []string{"Soil sampling", "soil sampling"},
			want:  []string{"soil", "sampling", "soil sampling"},
		},
		{
			name:  "stop words and short tokens dropped",
			max:   20,
			texts: []string{"It is in the ha"},
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keywords.Extract(tt.max, tt.texts...)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndex_Positions(t *testing.T) {
	ix := keywords.NewIndex("The land tenure deed.\nLand\ntenure records")

	assert.Equal(t, []int{1, 4}, ix.Positions("land tenure"))
	assert.Equal(t, 2, ix.Count("tenure"))
	assert.Empty(t, ix.Positions("tenure deed records"))
	assert.Empty(t, ix.Positions(""))
}

func TestIndex_WholeWords(t *testing.T) {
	ix := keywords.NewIndex("Project areas were surveyed.")
	assert.Equal(t, 0, ix.Count("area"))
	assert.Equal(t, 1, ix.Count("areas"))
}

func TestPresentAndFraction(t *testing.T) {
	text := "Baseline soil organic carbon was sampled."
	kws := []string{"soil organic carbon", "bulk density", "baseline"}

	assert.Equal(t, []string{"soil organic carbon", "baseline"}, keywords.Present(kws, text))
	assert.InDelta(t, 2.0/3.0, keywords.Fraction(kws, text), 1e-9)
	assert.Equal(t, 0.0, keywords.Fraction(nil, text))
}

func TestIsStopWord(t *testing.T) {
	assert.True(t, keywords.IsStopWord("the"))
	assert.False(t, keywords.IsStopWord("carbon"))
}
