// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/xuri/excelize/v2"
)

// SpreadsheetParser renders workbooks and delimited files as markdown tables,
// one "## Sheet: <name>" section per sheet. Blank rows are dropped.
type SpreadsheetParser struct{}

// NewSpreadsheetParser creates a new SpreadsheetParser.
func NewSpreadsheetParser() *SpreadsheetParser {
	return &SpreadsheetParser{}
}

func (p *SpreadsheetParser) Name() string {
	return "spreadsheet"
}

func (p *SpreadsheetParser) CanHandle(source evidence.Source) bool {
	switch strings.ToLower(source.Format) {
	case "xlsx", "xlsm", "xltx", "csv", "tsv":
		return true
	}
	return false
}

func (p *SpreadsheetParser) Parse(_ context.Context, source evidence.Source) (evidence.Rendering, error) {
	switch strings.ToLower(source.Format) {
	case "csv":
		return parseDelimited(source, ',')
	case "tsv":
		return parseDelimited(source, '\t')
	}
	return parseWorkbook(source)
}

func parseWorkbook(source evidence.Source) (evidence.Rendering, error) {
	f, err := excelize.OpenReader(bytes.NewReader(source.Content))
	if err != nil {
		return evidence.Rendering{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return evidence.Rendering{}, fmt.Errorf("workbook %s has no sheets", source.ID)
	}

	var b strings.Builder
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return evidence.Rendering{}, fmt.Errorf("failed to read rows from sheet %q: %w", sheet, err)
		}
		writeTable(&b, sheet, rows)
	}
	return evidence.Rendering{Text: b.String()}, nil
}

func parseDelimited(source evidence.Source, comma rune) (evidence.Rendering, error) {
	reader := csv.NewReader(bytes.NewReader(source.Content))
	reader.Comma = comma
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return evidence.Rendering{}, fmt.Errorf("failed to read %s: %w", source.ID, err)
	}

	var b strings.Builder
	writeTable(&b, source.ID, records)
	return evidence.Rendering{Text: b.String()}, nil
}

func writeTable(b *strings.Builder, name string, rows [][]string) {
	fmt.Fprintf(b, "## Sheet: %s\n\n", name)
	for _, row := range rows {
		cells := cleanRow(row)
		if len(cells) == 0 {
			continue
		}
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}
	b.WriteString("\n")
}

// cleanRow trims cells and drops trailing empties; an all-blank row yields nil.
func cleanRow(row []string) []string {
	cells := make([]string, len(row))
	last := -1
	for i, cell := range row {
		cells[i] = strings.TrimSpace(strings.ReplaceAll(cell, "\n", " "))
		if cells[i] != "" {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	return cells[:last+1]
}
