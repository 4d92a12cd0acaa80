// SPDX-License-Identifier: Apache-2.0

// Package classify assigns a semantic document type to an ingested file from
// its name and text rendering.
//
// Rules are evaluated in three tiers: filename patterns, then content
// patterns, then a fallback by file extension. Within a tier the most
// specific (longest) matching pattern wins; equal specificity keeps table
// order. A file that matches nothing is typed unknown, never rejected.
package classify

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/gemaraproj/registry-review/internal/review"
)

// MatchSource records which tier produced a classification.
type MatchSource string

const (
	MatchFilename  MatchSource = "filename"
	MatchContent   MatchSource = "content"
	MatchExtension MatchSource = "extension"
	MatchNone      MatchSource = "none"
)

// contentScanLimit bounds how much of a rendering content rules look at.
const contentScanLimit = 8000

// Result is the outcome of classifying one file.
type Result struct {
	Type           review.DocumentType `json:"type"`
	MatchedPattern string              `json:"matched_pattern,omitempty"`
	Source         MatchSource         `json:"source"`
}

type rule struct {
	docType review.DocumentType
	pattern string
}

type compiledRule struct {
	rule
	re *regexp.Regexp
}

// filenameRules run against the normalized filename: lowercase words split
// on punctuation, case changes and letter/digit boundaries.
var filenameRules = []rule{
	{review.DocProjectPlan, `\bproject (plan|design|description)\b`},
	{review.DocProjectPlan, `\bpdd\b`},
	{review.DocBaselineReport, `\bbaseline (report|assessment|survey)\b`},
	{review.DocBaselineReport, `\bbaseline\b`},
	{review.DocMonitoringReport, `\bmonitoring (report|round|period)\b`},
	{review.DocMonitoringReport, `\bmonitoring\b`},
	{review.DocLandTenure, `\bland (tenure|title|registry|ownership)\b`},
	{review.DocLandTenure, `\b(title deed|deed|lease|tenure)\b`},
	{review.DocLandCoverMap, `\bland (cover|use) (map|maps|classification)\b`},
	{review.DocLandCoverMap, `\bland cover\b`},
	{review.DocLandCoverMap, `\b(map|maps|imagery|satellite|ndvi)\b`},
	{review.DocGHGEmissions, `\bghg (emissions|accounting|calculations?)\b`},
	{review.DocGHGEmissions, `\b(ghg|emissions?)\b`},
	{review.DocSamplingReport, `\bsoil sampling (report|plan|design)\b`},
	{review.DocSamplingReport, `\b(sampling|lab results|laboratory)\b`},
	{review.DocRegistryForm, `\bregistry (form|review|agreement)\b`},
	{review.DocRegistryForm, `\bregistration\b`},
}

// contentRules run against the first contentScanLimit bytes of the
// rendering, lowercased with whitespace collapsed.
var contentRules = []rule{
	{review.DocProjectPlan, `\bproject design document\b`},
	{review.DocProjectPlan, `\bproject plan\b`},
	{review.DocLandTenure, `\bcertificate of title\b`},
	{review.DocLandTenure, `\bregistered proprietor\b`},
	{review.DocLandTenure, `\b(lease agreement|land tenure)\b`},
	{review.DocMonitoringReport, `\bmonitoring (report|period)\b`},
	{review.DocBaselineReport, `\bbaseline (soil|report|sampling|assessment)\b`},
	{review.DocGHGEmissions, `\bgreenhouse gas emissions\b`},
	{review.DocGHGEmissions, `\bco2e\b`},
	{review.DocSamplingReport, `\b(soil sampling|sampling design|bulk density)\b`},
	{review.DocLandCoverMap, `\b(land cover classification|satellite imagery)\b`},
	{review.DocRegistryForm, `\b(registry review|registration form)\b`},
}

var extensionTypes = map[string]review.DocumentType{
	".xlsx":    review.DocSpreadsheetData,
	".xls":     review.DocSpreadsheetData,
	".xlsm":    review.DocSpreadsheetData,
	".ods":     review.DocSpreadsheetData,
	".csv":     review.DocSpreadsheetData,
	".tsv":     review.DocSpreadsheetData,
	".tif":     review.DocLandCoverMap,
	".tiff":    review.DocLandCoverMap,
	".shp":     review.DocLandCoverMap,
	".kml":     review.DocLandCoverMap,
	".kmz":     review.DocLandCoverMap,
	".geojson": review.DocLandCoverMap,
}

// Classifier holds compiled pattern tables. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	filename []compiledRule
	content  []compiledRule
}

var defaultClassifier = &Classifier{
	filename: compile(filenameRules),
	content:  compile(contentRules),
}

// Default returns the shared classifier built from the built-in tables.
func Default() *Classifier {
	return defaultClassifier
}

func compile(rules []rule) []compiledRule {
	out := make([]compiledRule, len(rules))
	for i, r := range rules {
		out[i] = compiledRule{rule: r, re: regexp.MustCompile(r.pattern)}
	}
	return out
}

// Classify returns the document type for a file name and its text rendering.
func (c *Classifier) Classify(filename, content string) Result {
	if r, ok := bestMatch(c.filename, NormalizeFilename(filename)); ok {
		return Result{Type: r.docType, MatchedPattern: r.pattern, Source: MatchFilename}
	}

	if content != "" {
		if len(content) > contentScanLimit {
			content = content[:contentScanLimit]
		}
		if r, ok := bestMatch(c.content, normalizeContent(content)); ok {
			return Result{Type: r.docType, MatchedPattern: r.pattern, Source: MatchContent}
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensionTypes[ext]; ok {
		return Result{Type: t, MatchedPattern: "*" + ext, Source: MatchExtension}
	}

	return Result{Type: review.DocUnknown, Source: MatchNone}
}

// bestMatch returns the longest matching rule; the first wins on equal length.
func bestMatch(rules []compiledRule, text string) (compiledRule, bool) {
	var best compiledRule
	found := false
	for _, r := range rules {
		if !r.re.MatchString(text) {
			continue
		}
		if !found || len(r.pattern) > len(best.pattern) {
			best = r
			found = true
		}
	}
	return best, found
}

// NormalizeFilename lowercases a file name without its extension and splits
// it into space-separated words at punctuation, lower-to-upper case changes
// and letter/digit boundaries: "4997Botany22_Project_Plan.pdf" becomes
// "4997 botany 22 project plan".
func NormalizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	var prev rune
	for i, r := range base {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			b.WriteRune(' ')
			prev = ' '
			continue
		}
		if i > 0 && boundary(prev, r) {
			b.WriteRune(' ')
		}
		b.WriteRune(unicode.ToLower(r))
		prev = r
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func boundary(prev, r rune) bool {
	switch {
	case unicode.IsDigit(prev) && unicode.IsLetter(r):
		return true
	case unicode.IsLetter(prev) && unicode.IsDigit(r):
		return true
	case unicode.IsLower(prev) && unicode.IsUpper(r):
		return true
	}
	return false
}

func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
