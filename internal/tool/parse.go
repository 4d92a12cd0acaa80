// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemaraproj/registry-review/internal/classify"
	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/gemaraproj/registry-review/internal/evidence/parsers"
	"github.com/gemaraproj/registry-review/internal/review"
)

// maxPreviewRunes bounds the rendering returned by parse_document.
const maxPreviewRunes = 4000

// MetadataParseDocument describes the parse_document tool.
var MetadataParseDocument = &mcp.Tool{
	Name: "parse_document",
	Description: "Render a single submission document to text and classify it without creating a session. " +
		"Supported formats: pdf, xlsx, csv, html, yaml, json, markdown and plain text. " +
		"Returns the parser used, the document type the classifier assigns, the page count, a text preview " +
		"and the structured field values (project identifier, dates, land area, owner) found by the " +
		"deterministic field rules. Field values here are unverified proposals; run a session to verify them.",
}

// InputParseDocument is the input for the ParseDocument tool.
type InputParseDocument struct {
	Content  string `json:"content" jsonschema:"raw content of the document"`
	Format   string `json:"format,omitempty" jsonschema:"format hint such as pdf, xlsx, csv, html, yaml, json or md; detected when omitted"`
	Filename string `json:"filename,omitempty" jsonschema:"file name used for classification and citations"`
}

// ProposedField is one structured value found in the document.
type ProposedField struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	RawText string `json:"raw_text"`
}

// OutputParseDocument is the output for the ParseDocument tool.
type OutputParseDocument struct {
	ParserUsed     string              `json:"parser_used"`
	DocumentType   review.DocumentType `json:"document_type"`
	MatchedPattern string              `json:"matched_pattern,omitempty"`
	PageCount      int                 `json:"page_count"`
	Preview        string              `json:"preview"`
	Truncated      bool                `json:"truncated"`
	Fields         []ProposedField     `json:"fields"`
}

// ParseDocument renders, classifies and scans one document.
func ParseDocument(ctx context.Context, _ *mcp.CallToolRequest, input InputParseDocument) (*mcp.CallToolResult, OutputParseDocument, error) {
	if input.Content == "" {
		return nil, OutputParseDocument{}, fmt.Errorf("content is required")
	}

	filename := input.Filename
	if filename == "" {
		filename = "unknown"
	}

	renderer := evidence.NewRenderer(parsers.Default()...)
	rendering, err := renderer.Render(ctx, evidence.Source{
		Content: []byte(input.Content),
		Format:  input.Format,
		ID:      filename,
	})
	if err != nil {
		return nil, OutputParseDocument{}, err
	}

	class := classify.Default().Classify(filename, rendering.Text)
	out := OutputParseDocument{
		ParserUsed:     rendering.Parser,
		DocumentType:   class.Type,
		MatchedPattern: class.MatchedPattern,
		PageCount:      rendering.PageCount,
		Preview:        rendering.Text,
		Fields:         []ProposedField{},
	}
	if r := []rune(out.Preview); len(r) > maxPreviewRunes {
		out.Preview = string(r[:maxPreviewRunes])
		out.Truncated = true
	}
	for _, c := range evidence.NewFieldMapper().Map(rendering.Text, review.FieldNames) {
		out.Fields = append(out.Fields, ProposedField{Field: c.Field, Value: c.Value, RawText: c.RawText})
	}
	return nil, out, nil
}
