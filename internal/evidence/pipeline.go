// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"fmt"
)

// Renderer selects a parser for each source and produces its text rendering.
type Renderer struct {
	parsers []Parser
}

// NewRenderer creates a Renderer with the provided parsers. Order matters:
// the first parser whose CanHandle accepts a source is used.
func NewRenderer(parsers ...Parser) *Renderer {
	return &Renderer{parsers: parsers}
}

// Render produces the rendering of source.
func (r *Renderer) Render(ctx context.Context, source Source) (Rendering, error) {
	parser, err := r.selectParser(source)
	if err != nil {
		return Rendering{}, err
	}

	rendering, err := parser.Parse(ctx, source)
	if err != nil {
		return Rendering{}, fmt.Errorf("parser %q failed: %w", parser.Name(), err)
	}
	rendering.Parser = parser.Name()
	if rendering.PageCount == 0 {
		rendering.PageCount = CountPages(rendering.Text)
	}
	return rendering, nil
}

// selectParser returns the first registered parser that can handle the given source.
func (r *Renderer) selectParser(source Source) (Parser, error) {
	for _, parser := range r.parsers {
		if parser.CanHandle(source) {
			return parser, nil
		}
	}
	return nil, fmt.Errorf("unsupported document format: no parser found for %q (format hint: %q)", source.ID, source.Format)
}

// RegisteredParsers returns the names of all currently registered parsers.
func (r *Renderer) RegisteredParsers() []string {
	names := make([]string, len(r.parsers))
	for i, parser := range r.parsers {
		names[i] = parser.Name()
	}
	return names
}
