// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"regexp"
	"strings"

	"github.com/gemaraproj/registry-review/internal/review"
)

const monthNames = `(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?`

// datePattern matches the date notations ParseDate understands.
var datePattern = regexp.MustCompile(`(?i)\b(?:` +
	`\d{4}-\d{1,2}-\d{1,2}` +
	`|\d{4}/\d{1,2}/\d{1,2}` +
	`|\d{1,2}/\d{1,2}/\d{4}` +
	`|\d{1,2}-` + monthNames + `-\d{4}` +
	`|\d{1,2}(?:st|nd|rd|th)?\s+` + monthNames + `,?\s+\d{4}` +
	`|` + monthNames + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
	`|` + monthNames + `\s+\d{4}` +
	`)\b`)

// fieldRule maps a set of trigger keywords to a structured field. The value
// pattern's first capture group (or whole match) is the candidate value.
type fieldRule struct {
	field    string
	keywords []string
	value    *regexp.Regexp
}

// fieldRules is the keyword-to-field table used by the FieldMapper. It is
// shared and read-only.
var fieldRules = []fieldRule{
	{
		field:    review.FieldProjectID,
		keywords: []string{"project id", "project identifier", "project number", "project no", "project code", "registry id", "registry number"},
		value:    regexp.MustCompile(`(?i)(?:project\s+(?:id|identifier|number|no\.?|code)|registry\s+(?:id|number))\s*[:#.\-]?\s*([A-Za-z]{0,4}[0-9]{0,3}[-_ ]?[0-9]{3,6})\b`),
	},
	{
		field:    review.FieldProjectStartDate,
		keywords: []string{"project start", "start date", "commenced", "commencement", "project began", "crediting period start"},
		value:    datePattern,
	},
	{
		field:    review.FieldImageryDate,
		keywords: []string{"imagery", "satellite", "image date", "remote sensing", "aerial"},
		value:    datePattern,
	},
	{
		field:    review.FieldSamplingDate,
		keywords: []string{"sampling", "sampled", "soil samples", "samples were collected"},
		value:    datePattern,
	},
	{
		field:    review.FieldBaselineDate,
		keywords: []string{"baseline"},
		value:    datePattern,
	},
	{
		field:    review.FieldLandArea,
		keywords: []string{"hectare", " ha", "acre", "area"},
		value:    regexp.MustCompile(`(?i)\b([0-9][0-9,]*(?:\.[0-9]+)?\s*(?:ha|hectares?|acres?))\b`),
	},
	{
		field:    review.FieldOwnerName,
		keywords: []string{"owner", "owned by", "proprietor", "title holder"},
		value:    regexp.MustCompile(`(?:[Ll]and\s*owner|[Oo]wner(?:\s+name)?|[Oo]wned\s+by|[Pp]roprietor|[Tt]itle\s+holder)\s*(?:is|:|-)?\s*([A-Z][A-Za-z&'.\-]*(?:\s+(?:[A-Z][A-Za-z&'.\-]*|&|and|of))*)`),
	},
}

// FieldCandidate is a structured value proposed from one sentence.
type FieldCandidate struct {
	Field   string
	Value   string
	RawText string
	Offset  int
}

// FieldMapper proposes structured field values from document text using the
// rule table. It never invents values: every candidate is a span of the
// sentence it came from.
type FieldMapper struct{}

// NewFieldMapper creates a new FieldMapper.
func NewFieldMapper() *FieldMapper {
	return &FieldMapper{}
}

// Map returns candidates for the requested fields, in document order. Fields
// without a rule are ignored.
func (m *FieldMapper) Map(text string, fields []string) []FieldCandidate {
	wanted := make(map[string]bool, len(fields))
	for _, f := range fields {
		wanted[f] = true
	}

	var candidates []FieldCandidate
	for _, s := range splitSentences(text) {
		lower := strings.ToLower(s.text)
		for _, rule := range fieldRules {
			if !wanted[rule.field] {
				continue
			}
			if c, ok := m.mapSentence(rule, s, lower); ok {
				candidates = append(candidates, c)
			}
		}
	}
	return candidates
}

func (m *FieldMapper) mapSentence(rule fieldRule, s sentence, lower string) (FieldCandidate, bool) {
	trigger := -1
	for _, kw := range rule.keywords {
		if idx := strings.Index(lower, kw); idx >= 0 && (trigger < 0 || idx < trigger) {
			trigger = idx
		}
	}
	if trigger < 0 {
		return FieldCandidate{}, false
	}

	matches := rule.value.FindAllStringSubmatchIndex(s.text, -1)
	if len(matches) == 0 {
		return FieldCandidate{}, false
	}

	// the value nearest the trigger wins; values after it are preferred
	best, bestDist := -1, 0
	for i, loc := range matches {
		start, end := loc[0], loc[1]
		if len(loc) >= 4 && loc[2] >= 0 {
			start, end = loc[2], loc[3]
		}
		dist := start - trigger
		if dist < 0 {
			dist = (trigger - end) * 2
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}

	loc := matches[best]
	start, end := loc[0], loc[1]
	if len(loc) >= 4 && loc[2] >= 0 {
		start, end = loc[2], loc[3]
	}
	value := normalizeValue(rule.field, s.text[start:end])
	if value == "" {
		return FieldCandidate{}, false
	}
	return FieldCandidate{
		Field:   rule.field,
		Value:   value,
		RawText: collapseSpace(s.text),
		Offset:  s.offset + start,
	}, true
}

func normalizeValue(field, raw string) string {
	raw = collapseSpace(raw)
	switch {
	case review.IsDateField(field):
		t, ok := review.ParseDate(raw)
		if !ok {
			return ""
		}
		return review.FormatDate(t)
	case field == review.FieldProjectID:
		return strings.ToUpper(raw)
	case field == review.FieldOwnerName:
		words := strings.Fields(strings.TrimRight(raw, ".,;"))
		for len(words) > 0 && isConnector(words[len(words)-1]) {
			words = words[:len(words)-1]
		}
		return strings.Join(words, " ")
	}
	return raw
}

func isConnector(w string) bool {
	switch strings.ToLower(w) {
	case "and", "of", "&":
		return true
	}
	return false
}

type sentence struct {
	text   string
	offset int
}

// splitSentences cuts text at line breaks and at sentence punctuation
// followed by whitespace.
func splitSentences(text string) []sentence {
	var out []sentence
	start := 0
	emit := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, sentence{text: s, offset: start + strings.Index(text[start:end], s)})
		}
		start = end
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			emit(i)
			start = i + 1
		case '.', '!', '?':
			if i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\t') && !abbreviationBefore(text, i) {
				emit(i + 1)
			}
		}
	}
	emit(len(text))
	return out
}

// abbreviationBefore reports whether the period at i ends a short
// abbreviation such as "No." or "Jan.".
func abbreviationBefore(text string, i int) bool {
	if text[i] != '.' {
		return false
	}
	j := i
	for j > 0 && isASCIILetter(text[j-1]) {
		j--
	}
	switch strings.ToLower(text[j:i]) {
	case "no", "jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec", "inc", "ltd", "co", "dr", "mr", "mrs", "ms", "st", "approx":
		return true
	}
	return false
}

func isASCIILetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
