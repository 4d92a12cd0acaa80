// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/gemaraproj/registry-review/internal/keywords"
	"github.com/gemaraproj/registry-review/internal/review"
)

var (
	headingPattern  = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+(.+?)[ \t#]*$`)
	numberedHeading = regexp.MustCompile(`(?m)^[ \t]*(\d+(?:\.\d+)*\.?[ \t]+[A-Z][^\n]{2,80})$`)
)

const maxSectionLabelRunes = 120

type marker struct {
	offset int
	label  string
	page   int
}

// Document is a rendering indexed for snippet extraction and citation lookup.
type Document struct {
	Meta     review.Document
	Text     string
	index    *keywords.Index
	source   *SourceText
	pages    []marker
	headings []marker
}

// NewDocument indexes the rendering text of doc.
func NewDocument(doc review.Document, text string) *Document {
	d := &Document{
		Meta:   doc,
		Text:   text,
		index:  keywords.NewIndex(text),
		source: NewSourceText(text),
	}
	for _, loc := range pageMarkerPattern.FindAllStringSubmatchIndex(text, -1) {
		if n, err := strconv.Atoi(text[loc[2]:loc[3]]); err == nil {
			d.pages = append(d.pages, marker{offset: loc[0], page: n})
		}
	}
	for _, loc := range headingPattern.FindAllStringSubmatchIndex(text, -1) {
		d.headings = append(d.headings, marker{offset: loc[0], label: text[loc[2]:loc[3]]})
	}
	for _, loc := range numberedHeading.FindAllStringSubmatchIndex(text, -1) {
		label := strings.TrimSpace(text[loc[2]:loc[3]])
		if strings.HasSuffix(label, ".") {
			// a numbered list item, not a heading
			continue
		}
		d.headings = append(d.headings, marker{offset: loc[0], label: label})
	}
	sort.SliceStable(d.headings, func(i, j int) bool { return d.headings[i].offset < d.headings[j].offset })
	return d
}

// Source returns the verification view of the document.
func (d *Document) Source() *SourceText {
	return d.source
}

// PageAt returns the page containing offset: the nearest preceding page
// marker, 1 for text before the first marker of a paginated rendering, and 0
// for renderings without pages.
func (d *Document) PageAt(offset int) int {
	if len(d.pages) == 0 {
		return 0
	}
	page := 1
	for _, m := range d.pages {
		if m.offset > offset {
			break
		}
		page = m.page
	}
	return page
}

// SectionAt returns the nearest heading before offset, or "".
func (d *Document) SectionAt(offset int) string {
	label := ""
	for _, h := range d.headings {
		if h.offset > offset {
			break
		}
		label = h.label
	}
	if r := []rune(label); len(r) > maxSectionLabelRunes {
		label = string(r[:maxSectionLabelRunes])
	}
	return label
}

// Snippeter cuts bounded context windows around keyword matches.
type Snippeter struct {
	WindowWords int
	MaxChars    int
	PerDocument int
}

type span struct {
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

type scoredSnippet struct {
	review.EvidenceSnippet
	span span
}

// Snippets returns up to PerDocument non-overlapping snippets of doc for the
// keyword set, ordered by descending confidence and then by position.
func (sn Snippeter) Snippets(doc *Document, keywordSet []string) []review.EvidenceSnippet {
	words := doc.index.Words()
	if len(words) == 0 || len(keywordSet) == 0 {
		return nil
	}

	seen := make(map[int]bool)
	var candidates []scoredSnippet
	for _, kw := range keywordSet {
		n := len(strings.Fields(kw))
		for _, pos := range doc.index.Positions(kw) {
			sp := alignToMarkers(doc.Text, sn.window(doc.Text, words, pos, pos+n-1))
			if seen[sp.start] {
				continue
			}
			seen[sp.start] = true

			text, end := sn.cut(doc.Text, sp)
			if text == "" {
				continue
			}
			matchOffset := words[pos].Start
			matched := keywords.Present(keywordSet, text)
			candidates = append(candidates, scoredSnippet{
				EvidenceSnippet: review.EvidenceSnippet{
					DocumentID:      doc.Meta.ID,
					Filename:        doc.Meta.Filename,
					Page:            doc.PageAt(matchOffset),
					Section:         doc.SectionAt(matchOffset),
					Text:            text,
					Confidence:      capOne(float64(len(matched)) / float64(len(keywordSet))),
					MatchedKeywords: matched,
					Verified:        strings.Contains(doc.Source().norm, Normalize(text)),
				},
				span: span{start: sp.start, end: end},
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].span.start < candidates[j].span.start
	})

	var picked []scoredSnippet
	for _, c := range candidates {
		if len(picked) == sn.PerDocument {
			break
		}
		overlapping := false
		for _, p := range picked {
			if c.span.overlaps(p.span) {
				overlapping = true
				break
			}
		}
		if !overlapping {
			picked = append(picked, c)
		}
	}

	out := make([]review.EvidenceSnippet, len(picked))
	for i, p := range picked {
		out[i] = p.EvidenceSnippet
	}
	return out
}

// window returns the byte span of WindowWords words on each side of the match
// words [first, last]. When that span is longer than MaxChars it starts at
// the sentence holding the match instead, and never so early that the match
// falls outside the first half of the snippet.
func (sn Snippeter) window(text string, words []keywords.Word, first, last int) span {
	lo := first - sn.WindowWords
	if lo < 0 {
		lo = 0
	}
	hi := last + sn.WindowWords
	if hi >= len(words) {
		hi = len(words) - 1
	}
	sp := span{start: words[lo].Start, end: words[hi].End}
	if runeLen(text[sp.start:sp.end]) <= sn.MaxChars {
		return sp
	}

	match := words[first].Start
	if s := sentenceStart(text, match); s > sp.start {
		sp.start = s
	}
	if runeLen(text[sp.start:match]) > sn.MaxChars/2 {
		for k := lo; k <= first; k++ {
			if words[k].Start >= sp.start && runeLen(text[words[k].Start:match]) <= sn.MaxChars/3 {
				sp.start = words[k].Start
				break
			}
		}
	}
	return sp
}

// alignToMarkers widens sp to whole lines where it starts or ends inside a
// page marker line, so cut can drop the marker completely.
func alignToMarkers(text string, sp span) span {
	lineStart := strings.LastIndexByte(text[:sp.start], '\n') + 1
	lineEnd := lineEndAt(text, sp.start)
	if pageMarkerPattern.MatchString(text[lineStart:lineEnd]) {
		sp.start = lineStart
	}
	if sp.end > sp.start {
		lineStart = strings.LastIndexByte(text[:sp.end-1], '\n') + 1
		lineEnd = lineEndAt(text, sp.end-1)
		if pageMarkerPattern.MatchString(text[lineStart:lineEnd]) {
			sp.end = lineEnd
		}
	}
	return sp
}

func lineEndAt(text string, pos int) int {
	if i := strings.IndexByte(text[pos:], '\n'); i >= 0 {
		return pos + i
	}
	return len(text)
}

// cut renders the span as snippet text and returns the byte offset where the
// kept text ends.
func (sn Snippeter) cut(text string, sp span) (string, int) {
	raw := stripMarkers(text, sp)
	collapsed := collapseSpace(raw)
	truncated := Truncate(collapsed, sn.MaxChars)
	end := sp.end
	if len(truncated) < len(collapsed) {
		// approximate: the kept share of the span
		end = sp.start + (sp.end-sp.start)*len(truncated)/len(collapsed)
	}
	return truncated, end
}

// stripMarkers returns the text of sp with its page marker lines blanked.
// A match touching an edge of sp only counts when the edge is also a line
// boundary of text.
func stripMarkers(text string, sp span) string {
	sub := text[sp.start:sp.end]
	var b strings.Builder
	last := 0
	for _, loc := range pageMarkerPattern.FindAllStringIndex(sub, -1) {
		if loc[0] == 0 && sp.start > 0 && text[sp.start-1] != '\n' {
			continue
		}
		if loc[1] == len(sub) && sp.end < len(text) && text[sp.end] != '\n' && text[sp.end] != '\r' {
			continue
		}
		b.WriteString(sub[last:loc[0]])
		b.WriteByte(' ')
		last = loc[1]
	}
	b.WriteString(sub[last:])
	return b.String()
}

// Truncate shortens s to at most max runes. It cuts after the last sentence
// end in the second half of the limit, else at the last word boundary, and
// only splits a word when the limit falls inside the first word.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}

	for k := max - 1; k >= 0 && k+1 >= max/2; k-- {
		if isSentenceEnd(r[k]) && unicode.IsSpace(r[k+1]) {
			return string(r[:k+1])
		}
	}
	if unicode.IsSpace(r[max]) {
		return strings.TrimRightFunc(string(r[:max]), unicode.IsSpace)
	}
	for k := max - 1; k > 0; k-- {
		if unicode.IsSpace(r[k]) {
			return strings.TrimRightFunc(string(r[:k]), unicode.IsSpace)
		}
	}
	return string(r[:max])
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// sentenceStart returns the offset of the first character of the sentence or
// paragraph containing pos.
func sentenceStart(text string, pos int) int {
	k := pos - 1
	for ; k > 0; k-- {
		c := text[k]
		if c == '\n' && text[k-1] == '\n' {
			break
		}
		if (c == ' ' || c == '\n' || c == '\t') && (text[k-1] == '.' || text[k-1] == '!' || text[k-1] == '?') {
			break
		}
	}
	if k <= 0 {
		return 0
	}
	k++
	for k < pos && (text[k] == ' ' || text[k] == '\n' || text[k] == '\t') {
		k++
	}
	return k
}

func runeLen(s string) int {
	return len([]rune(s))
}

func capOne(f float64) float64 {
	if f > 1 {
		return 1
	}
	return f
}
