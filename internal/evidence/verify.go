// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/review"
)

const (
	// maxQuoteRunes bounds the quote compared against the source.
	maxQuoteRunes = 400
	// maxAnchors is the number of distinct quote tokens used to align
	// candidate windows in the source.
	maxAnchors = 5
	// maxAnchorHits bounds the windows tried per anchor in long documents.
	maxAnchorHits = 50
	minAnchorLen  = 4
)

// VerificationResult classifies one extracted field against its source.
type VerificationResult string

const (
	Verified   VerificationResult = "verified"
	Unverified VerificationResult = "unverified"
	Rejected   VerificationResult = "rejected"
)

// Verdict is the outcome of checking a field's supporting quote.
type Verdict struct {
	Result     VerificationResult
	Similarity float64
	Confidence float64
	// ValueFound is true when the value itself occurs in the source.
	ValueFound bool
}

// Verifier checks that the quote and value of an extracted field can be traced
// to the document they are attributed to.
type Verifier struct {
	cfg config.VerificationConfig
}

// NewVerifier creates a Verifier with the given policy.
func NewVerifier(cfg config.VerificationConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// Check verifies field=value quoted as rawText against source. A quote at or
// above the similarity threshold whose value is present is verified. A value
// present in the source with a weaker quote, or a matching quote whose value
// is absent, is kept with the penalized confidence. Anything else cannot be
// traced and is rejected.
func (v *Verifier) Check(field, value, rawText string, source *SourceText) Verdict {
	quote := rawText
	if strings.TrimSpace(quote) == "" {
		quote = value
	}
	sim := source.PartialRatio(quote)
	found := source.ContainsValue(field, value)

	switch {
	case sim >= v.cfg.SimilarityThreshold && found:
		return Verdict{Result: Verified, Similarity: sim, Confidence: v.cfg.VerifiedConfidence, ValueFound: true}
	case found || sim >= v.cfg.SimilarityThreshold:
		return Verdict{Result: Unverified, Similarity: sim, Confidence: v.cfg.PenalizedConfidence, ValueFound: found}
	default:
		return Verdict{Result: Rejected, Similarity: sim}
	}
}

// SourceText is a document rendering prepared for repeated fuzzy lookups.
type SourceText struct {
	norm   string
	tokens []string
	starts []int
	dates  []string
}

// NewSourceText normalizes text once for verification. Page markers are not
// part of the source a quote can cite.
func NewSourceText(text string) *SourceText {
	text = pageMarkerPattern.ReplaceAllString(text, "\n")
	norm := Normalize(text)
	st := &SourceText{norm: norm, tokens: strings.Fields(norm)}
	st.starts = make([]int, 0, len(st.tokens))
	offset := 0
	for _, tok := range st.tokens {
		idx := strings.Index(norm[offset:], tok) + offset
		st.starts = append(st.starts, idx)
		offset = idx + len(tok)
	}
	for _, m := range datePattern.FindAllString(text, -1) {
		if t, ok := review.ParseDate(m); ok {
			st.dates = append(st.dates, review.FormatDate(t))
		}
	}
	return st
}

// Normalize lowercases s and reduces it to single-space separated runs of
// letters and digits.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// ContainsValue reports whether value occurs in the source. Dates compare by
// calendar day so "2022-06-15" matches "15 June 2022".
func (s *SourceText) ContainsValue(field, value string) bool {
	if review.IsDateField(field) {
		if t, ok := review.ParseDate(value); ok {
			want := review.FormatDate(t)
			for _, d := range s.dates {
				if d == want {
					return true
				}
			}
			return false
		}
	}
	v := Normalize(value)
	if v == "" {
		return false
	}
	return strings.Contains(" "+s.norm+" ", " "+v+" ")
}

// PartialRatio returns the best similarity in [0,1] between quote and any
// equally long window of the source. An exact substring scores 1.
func (s *SourceText) PartialRatio(quote string) float64 {
	q := Normalize(quote)
	if r := []rune(q); len(r) > maxQuoteRunes {
		q = strings.TrimSpace(string(r[:maxQuoteRunes]))
	}
	if q == "" || s.norm == "" {
		return 0
	}
	if strings.Contains(s.norm, q) {
		return 1
	}
	if len(q) >= len(s.norm) {
		return ratio(q, s.norm)
	}

	qTokens := strings.Fields(q)
	best := 0.0
	tried := make(map[int]bool)
	for _, anchor := range anchors(qTokens) {
		hits := 0
		for i, tok := range s.tokens {
			if tok != anchor.token {
				continue
			}
			if hits++; hits > maxAnchorHits {
				break
			}
			start := i - anchor.pos
			if start < 0 {
				start = 0
			}
			if tried[start] {
				continue
			}
			tried[start] = true
			if r := ratio(q, s.window(start, len(qTokens))); r > best {
				best = r
				if best == 1 {
					return best
				}
			}
		}
	}
	return best
}

func (s *SourceText) window(start, n int) string {
	end := start + n
	if end > len(s.tokens) {
		end = len(s.tokens)
	}
	last := end - 1
	return s.norm[s.starts[start] : s.starts[last]+len(s.tokens[last])]
}

type anchor struct {
	token string
	pos   int
}

// anchors picks up to maxAnchors distinct quote tokens to align candidate
// windows, preferring tokens of at least minAnchorLen bytes.
func anchors(tokens []string) []anchor {
	seen := make(map[string]bool)
	var long, short []anchor
	for i, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if len(tok) >= minAnchorLen {
			long = append(long, anchor{token: tok, pos: i})
		} else {
			short = append(short, anchor{token: tok, pos: i})
		}
	}
	out := append(long, short...)
	if len(out) > maxAnchors {
		out = out[:maxAnchors]
	}
	return out
}

func ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
