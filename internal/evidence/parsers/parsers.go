// SPDX-License-Identifier: Apache-2.0

// Package parsers provides the document renderers registered with the
// evidence rendering pipeline.
package parsers

import "github.com/gemaraproj/registry-review/internal/evidence"

// Default returns every built-in parser in selection order. Specific binary
// formats come first; the markdown parser is the plain-text fallback.
func Default() []evidence.Parser {
	return []evidence.Parser{
		NewPDFParser(),
		NewSpreadsheetParser(),
		NewHTMLParser(),
		NewYAMLParser(),
		NewMarkdownParser(),
	}
}
