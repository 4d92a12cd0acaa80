// SPDX-License-Identifier: Apache-2.0

package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gemaraproj/registry-review/internal/classify"
	"github.com/gemaraproj/registry-review/internal/review"
)

func TestNormalizeFilename(t *testing.T) {
	tests := map[string]string{
		"4997Botany22_Project_Plan.pdf":  "4997 botany 22 project plan",
		"LandTenure-Deed (signed).PDF":   "land tenure deed signed",
		"monitoring_report_2023.docx":    "monitoring report 2023",
		"  spaced   out  name .md":       "spaced out name",
		"GIS/maps/ndvi_2021.tif":         "ndvi 2021",
		"Soil.Sampling.Lab.Results.xlsx": "soil sampling lab results",
	}
	for in, want := range tests {
		assert.Equal(t, want, classify.NormalizeFilename(in), in)
	}
}

func TestClassify(t *testing.T) {
	c := classify.Default()

	tests := []struct {
		name       string
		filename   string
		content    string
		wantType   review.DocumentType
		wantSource classify.MatchSource
	}{
		{
			name:       "project plan by filename",
			filename:   "4997Botany22_Project_Plan.pdf",
			wantType:   review.DocProjectPlan,
			wantSource: classify.MatchFilename,
		},
		{
			name:       "land tenure deed by filename",
			filename:   "Farm_Deed_Signed.pdf",
			wantType:   review.DocLandTenure,
			wantSource: classify.MatchFilename,
		},
		{
			name:       "more specific filename pattern wins",
			filename:   "Land_Cover_Map_Monitoring.pdf",
			wantType:   review.DocLandCoverMap,
			wantSource: classify.MatchFilename,
		},
		{
			name:       "filename beats content",
			filename:   "baseline_report.pdf",
			content:    "This lease agreement is made between the landowner and the project.",
			wantType:   review.DocBaselineReport,
			wantSource: classify.MatchFilename,
		},
		{
			name:       "content when filename is opaque",
			filename:   "scan_0001.pdf",
			content:    "CERTIFICATE OF TITLE\nRegistered proprietor: Jane Smith",
			wantType:   review.DocLandTenure,
			wantSource: classify.MatchContent,
		},
		{
			name:       "domain pattern beats spreadsheet fallback",
			filename:   "GHG_emissions_calc.xlsx",
			wantType:   review.DocGHGEmissions,
			wantSource: classify.MatchFilename,
		},
		{
			name:       "spreadsheet fallback by extension",
			filename:   "data_export_v3.xlsx",
			content:    "| a | b |",
			wantType:   review.DocSpreadsheetData,
			wantSource: classify.MatchExtension,
		},
		{
			name:       "unknown is retained not rejected",
			filename:   "misc_notes.txt",
			content:    "lorem ipsum dolor sit amet",
			wantType:   review.DocUnknown,
			wantSource: classify.MatchNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.filename, tt.content)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantSource, got.Source)
			if tt.wantSource != classify.MatchNone {
				assert.NotEmpty(t, got.MatchedPattern)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := classify.Default()
	inputs := [][2]string{
		{"Monitoring_Report_Land_Cover.pdf", ""},
		{"scan.pdf", "monitoring report with satellite imagery and soil sampling"},
		{"x.csv", ""},
	}
	for _, in := range inputs {
		first := c.Classify(in[0], in[1])
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, c.Classify(in[0], in[1]))
		}
	}
}
