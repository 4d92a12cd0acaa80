// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/gemaraproj/registry-review/internal/evidence"
)

// MarkdownParser passes markdown and plain-text documents through unchanged,
// normalizing line endings. Headings and page markers already present in the
// text are kept so the extractor can cite them.
type MarkdownParser struct{}

// NewMarkdownParser creates a new MarkdownParser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{}
}

func (p *MarkdownParser) Name() string {
	return "markdown"
}

// CanHandle returns true for markdown or text format hints, or for content
// that is valid UTF-8 text beginning with or containing a markdown heading.
func (p *MarkdownParser) CanHandle(source evidence.Source) bool {
	switch strings.ToLower(source.Format) {
	case "markdown", "md", "txt", "text":
		return true
	}
	if !isText(source.Content) {
		return false
	}
	content := strings.TrimSpace(string(source.Content))
	return strings.HasPrefix(content, "#") || strings.Contains(content, "\n#")
}

func (p *MarkdownParser) Parse(_ context.Context, source evidence.Source) (evidence.Rendering, error) {
	text := strings.ReplaceAll(string(source.Content), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return evidence.Rendering{
		Text:      text,
		PageCount: evidence.CountPages(text),
	}, nil
}

func isText(content []byte) bool {
	return utf8.Valid(content) && !bytes.ContainsRune(content, 0)
}
