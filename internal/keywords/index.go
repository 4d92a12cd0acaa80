// SPDX-License-Identifier: Apache-2.0

package keywords

import "strings"

// Index is a tokenized text that answers keyword occurrence queries.
// Matching is on whole words, so "area" does not match "areas" and phrase
// keywords match across line breaks.
type Index struct {
	text  string
	words []Word
	byTok map[string][]int
}

// NewIndex tokenizes text.
func NewIndex(text string) *Index {
	words := Words(text)
	byTok := make(map[string][]int)
	for i, w := range words {
		byTok[w.Text] = append(byTok[w.Text], i)
	}
	return &Index{text: text, words: words, byTok: byTok}
}

// Text returns the indexed text.
func (ix *Index) Text() string {
	return ix.text
}

// Words returns the tokens of the indexed text.
func (ix *Index) Words() []Word {
	return ix.words
}

// Positions returns the word indices at which keyword starts, ascending.
func (ix *Index) Positions(keyword string) []int {
	parts := strings.Fields(keyword)
	if len(parts) == 0 {
		return nil
	}
	var out []int
	for _, start := range ix.byTok[parts[0]] {
		if start+len(parts) > len(ix.words) {
			continue
		}
		match := true
		for k := 1; k < len(parts); k++ {
			if ix.words[start+k].Text != parts[k] {
				match = false
				break
			}
		}
		if match {
			out = append(out, start)
		}
	}
	return out
}

// Count returns the number of occurrences of keyword.
func (ix *Index) Count(keyword string) int {
	return len(ix.Positions(keyword))
}

// Present returns the keywords that occur at least once in text, in the
// order given.
func Present(keywordSet []string, text string) []string {
	ix := NewIndex(text)
	var out []string
	for _, kw := range keywordSet {
		if ix.Count(kw) > 0 {
			out = append(out, kw)
		}
	}
	return out
}

// Fraction returns the share of keywordSet present in text, capped at 1.
func Fraction(keywordSet []string, text string) float64 {
	if len(keywordSet) == 0 {
		return 0
	}
	f := float64(len(Present(keywordSet, text))) / float64(len(keywordSet))
	if f > 1 {
		return 1
	}
	return f
}
