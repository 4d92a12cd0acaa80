// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/gemaraproj/registry-review/internal/evidence"
)

// HTMLParser converts saved web pages and HTML exports to markdown, keeping
// headings for section citations.
type HTMLParser struct {
	converter *md.Converter
}

// NewHTMLParser creates a new HTMLParser.
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{converter: md.NewConverter("", true, nil)}
}

func (p *HTMLParser) Name() string {
	return "html"
}

func (p *HTMLParser) CanHandle(source evidence.Source) bool {
	switch strings.ToLower(source.Format) {
	case "html", "htm", "xhtml":
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(source.Content[:min(len(source.Content), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func (p *HTMLParser) Parse(_ context.Context, source evidence.Source) (evidence.Rendering, error) {
	text, err := p.converter.ConvertString(string(source.Content))
	if err != nil {
		return evidence.Rendering{}, fmt.Errorf("convert HTML %s: %w", source.ID, err)
	}
	return evidence.Rendering{Text: text}, nil
}
