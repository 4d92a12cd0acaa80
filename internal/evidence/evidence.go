// SPDX-License-Identifier: Apache-2.0

// Package evidence turns project documents into reviewable evidence: it
// renders raw files to text, locates requirement keywords in those
// renderings, cuts bounded snippets with page and section citations, and
// extracts structured fields whose supporting quotes are verified against the
// source before they are reported.
package evidence

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// Source describes one raw file handed to the rendering pipeline.
type Source struct {
	// Content is the raw file content.
	Content []byte
	// Format is a lowercase extension hint without the dot ("pdf", "xlsx").
	Format string
	ID     string
}

// Rendering is the plain-text/markdown form of a document. Paginated
// renderings separate pages with PageMarker lines.
type Rendering struct {
	Text      string
	PageCount int
	Parser    string
}

// Parser renders one family of file formats.
type Parser interface {
	CanHandle(source Source) bool
	Parse(ctx context.Context, source Source) (Rendering, error)
	Name() string
}

// pageMarkerPattern matches whole lines that mark a page: the separators
// written by PageMarker, "<!-- page N -->" comments, "# Page N" headings and
// bare "Page N" or "Page N of M" lines found in pre-rendered markdown. Prose
// that merely starts with "Page 12 of the lease" is not a marker.
var pageMarkerPattern = regexp.MustCompile(`(?im)^[ \t]*(?:---|<!--|#+)?[ \t]*page[ \t]+(\d+)(?:[ \t]+of[ \t]+\d+)?[ \t]*(?:---|-->)?[ \t]*\r?$`)

// PageMarker returns the separator line placed before page n of a rendering.
func PageMarker(n int) string {
	return fmt.Sprintf("--- Page %d ---", n)
}

// CountPages returns the highest page number marked in text, or 0.
func CountPages(text string) int {
	highest := 0
	for _, m := range pageMarkerPattern.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}
