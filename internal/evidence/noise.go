// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/gemaraproj/registry-review/internal/classify"
	"github.com/gemaraproj/registry-review/internal/review"
)

// listContextMarkers identify text that enumerates documents rather than
// stating facts; values quoted from such text are file references.
var listContextMarkers = []string{
	"documents submitted",
	"document submitted",
	"attachments:",
	"attached documents",
	"file list",
	"list of documents",
	"supporting documents",
	"submitted files",
	"enclosures:",
}

var (
	filenameLike = regexp.MustCompile(`(?i)\b[\w\-]+\.(?:pdf|xlsx?|csv|docx?|md|txt|shp|kml|zip|png|jpe?g|tiff?)\b`)
	bareNumber   = regexp.MustCompile(`^[0-9]+$`)
)

// NoiseFilter rejects candidate field values that are structurally noise:
// numeric filename prefixes, fragments of session filenames, and values
// quoted from document lists.
type NoiseFilter struct {
	prefixes       map[string]bool
	filenameTokens map[string]bool
}

// NewNoiseFilter builds a filter over the filenames of one session.
func NewNoiseFilter(filenames []string) *NoiseFilter {
	f := &NoiseFilter{
		prefixes:       make(map[string]bool),
		filenameTokens: make(map[string]bool),
	}
	for _, name := range filenames {
		if p := leadingDigits(name); p != "" {
			f.prefixes[p] = true
		}
		for _, tok := range strings.Fields(classify.NormalizeFilename(name)) {
			f.filenameTokens[tok] = true
		}
	}
	return f
}

// Reason returns why value is noise for field, or "" when it may be
// considered.
func (f *NoiseFilter) Reason(field, value, rawText string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return "empty value"
	}

	lowerRaw := strings.ToLower(rawText)
	for _, marker := range listContextMarkers {
		if strings.Contains(lowerRaw, marker) {
			return "quoted from a document list (" + strings.TrimSuffix(marker, ":") + ")"
		}
	}

	if bareNumber.MatchString(v) && f.prefixes[v] {
		return "matches a numeric filename prefix"
	}

	if field != review.FieldProjectID {
		return ""
	}
	if bareNumber.MatchString(v) {
		return "bare number is not a registry identifier"
	}
	if f.filenameTokens[strings.ToLower(v)] {
		return "matches a filename fragment"
	}
	for _, name := range filenameLike.FindAllString(rawText, -1) {
		if strings.Contains(strings.ToLower(name), strings.ToLower(v)) {
			return "taken from a filename reference"
		}
	}
	return ""
}

func leadingDigits(filename string) string {
	base := filepath.Base(filename)
	end := 0
	for i, r := range base {
		if !unicode.IsDigit(r) {
			break
		}
		end = i + 1
	}
	return base[:end]
}
