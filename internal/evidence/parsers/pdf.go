// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/ledongthuc/pdf"
)

// PDFParser extracts the text layer of PDF documents page by page, writing a
// page marker before each page so snippets can cite page numbers.
type PDFParser struct{}

// NewPDFParser creates a new PDFParser.
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

func (p *PDFParser) Name() string {
	return "pdf"
}

func (p *PDFParser) CanHandle(source evidence.Source) bool {
	if strings.EqualFold(source.Format, "pdf") {
		return true
	}
	return bytes.HasPrefix(source.Content, []byte("%PDF-"))
}

func (p *PDFParser) Parse(ctx context.Context, source evidence.Source) (r evidence.Rendering, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed PDF %s: %v", source.ID, rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(source.Content), int64(len(source.Content)))
	if err != nil {
		return evidence.Rendering{}, fmt.Errorf("open PDF: %w", err)
	}

	var b strings.Builder
	numPages := reader.NumPage()
	extracted := 0
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return evidence.Rendering{}, err
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(evidence.PageMarker(i))
		b.WriteString("\n\n")

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// some pages fail to decode; keep the marker so numbering stays right
			continue
		}
		text = strings.TrimSpace(text)
		if text != "" {
			extracted++
			b.WriteString(text)
		}
	}

	if extracted == 0 {
		return evidence.Rendering{
			Text:      fmt.Sprintf("[PDF document with %d pages - no text content extracted]", numPages),
			PageCount: numPages,
		}, nil
	}
	return evidence.Rendering{Text: b.String(), PageCount: numPages}, nil
}
