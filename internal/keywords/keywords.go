// SPDX-License-Identifier: Apache-2.0

// Package keywords extracts keyword sets from requirement text and locates
// them in document renderings. Tokenization is shared by the mapper and the
// extractor so a keyword that scores a document can always be found in it.
package keywords

import (
	"strings"
	"unicode"
)

// DefaultMax caps the keyword set of one requirement.
const DefaultMax = 20

// minTokenLen drops very short single-word keywords ("ha", "of").
const minTokenLen = 3

// stopWords is fixed; it is never modified at runtime.
var stopWords = map[string]bool{
	"a": true, "about": true, "above": true, "after": true, "again": true, "all": true,
	"also": true, "an": true, "and": true, "any": true, "are": true, "as": true, "at": true,
	"be": true, "been": true, "before": true, "being": true, "below": true, "between": true,
	"both": true, "but": true, "by": true, "can": true, "could": true, "did": true, "do": true,
	"does": true, "during": true, "each": true, "either": true, "etc": true, "for": true,
	"from": true, "had": true, "has": true, "have": true, "having": true, "how": true,
	"if": true, "in": true, "into": true, "is": true, "it": true, "its": true, "least": true,
	"may": true, "more": true, "most": true, "must": true, "no": true, "not": true, "of": true,
	"on": true, "one": true, "only": true, "or": true, "other": true, "our": true, "out": true,
	"over": true, "per": true, "shall": true, "should": true, "so": true, "some": true,
	"such": true, "than": true, "that": true, "the": true, "their": true, "them": true,
	"then": true, "there": true, "these": true, "they": true, "this": true, "those": true,
	"through": true, "to": true, "under": true, "until": true, "up": true, "upon": true,
	"used": true, "using": true, "very": true, "via": true, "was": true, "we": true,
	"were": true, "what": true, "when": true, "where": true, "which": true, "while": true,
	"who": true, "will": true, "with": true, "within": true, "would": true, "you": true,
	"your": true,
}

// IsStopWord reports whether w (lowercase) is on the fixed stop-word list.
func IsStopWord(w string) bool {
	return stopWords[w]
}

// Word is one token of a text with its byte offsets. Text is lowercase.
type Word struct {
	Text  string
	Start int
	End   int
}

// Words splits text into runs of letters and digits.
func Words(text string) []Word {
	var words []Word
	start := -1
	for i, r := range text {
		isWord := unicode.IsLetter(r) || unicode.IsDigit(r)
		switch {
		case isWord && start < 0:
			start = i
		case !isWord && start >= 0:
			words = append(words, Word{Text: strings.ToLower(text[start:i]), Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, Word{Text: strings.ToLower(text[start:]), Start: start, End: len(text)})
	}
	return words
}

// Extract builds the keyword set for texts: single non-stop words first, then
// two-word phrases, then three-word phrases, each group in order of first
// appearance and deduplicated, capped at max entries. A phrase must start and
// end on a non-stop word, hold at least two non-stop words, and not cross
// sentence punctuation.
func Extract(max int, texts ...string) []string {
	if max <= 0 {
		max = DefaultMax
	}

	var unigrams, bigrams, trigrams []string
	seen := make(map[string]bool)
	add := func(dst *[]string, kw string) {
		if !seen[kw] {
			seen[kw] = true
			*dst = append(*dst, kw)
		}
	}

	for _, text := range texts {
		words := Words(text)
		for i, w := range words {
			if !stopWords[w.Text] && len([]rune(w.Text)) >= minTokenLen {
				add(&unigrams, w.Text)
			}
			for n := 2; n <= 3; n++ {
				if phrase, ok := phraseAt(text, words, i, n); ok {
					if n == 2 {
						add(&bigrams, phrase)
					} else {
						add(&trigrams, phrase)
					}
				}
			}
		}
	}

	out := make([]string, 0, max)
	for _, group := range [][]string{unigrams, bigrams, trigrams} {
		for _, kw := range group {
			if len(out) == max {
				return out
			}
			out = append(out, kw)
		}
	}
	return out
}

func phraseAt(text string, words []Word, i, n int) (string, bool) {
	if i+n > len(words) {
		return "", false
	}
	span := words[i : i+n]
	if stopWords[span[0].Text] || stopWords[span[n-1].Text] {
		return "", false
	}
	nonStop := 0
	parts := make([]string, n)
	for k, w := range span {
		if !stopWords[w.Text] {
			nonStop++
		}
		parts[k] = w.Text
		if k > 0 && strings.ContainsAny(text[span[k-1].End:w.Start], ".;:!?\n") {
			return "", false
		}
	}
	if nonStop < 2 {
		return "", false
	}
	return strings.Join(parts, " "), true
}
