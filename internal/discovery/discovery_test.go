// SPDX-License-Identifier: Apache-2.0

package discovery_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/registry-review/internal/classify"
	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/discovery"
	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/gemaraproj/registry-review/internal/evidence/parsers"
	"github.com/gemaraproj/registry-review/internal/review"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newDiscoverer(cfg config.DiscoveryConfig) *discovery.Discoverer {
	n := 0
	return discovery.New(cfg, evidence.NewRenderer(parsers.Default()...), classify.Default(),
		discovery.WithIDFunc(func() string {
			n++
			return fmt.Sprintf("doc-%d", n)
		}))
}

func byPath(results []discovery.Result) map[string]discovery.Result {
	out := make(map[string]discovery.Result, len(results))
	for _, r := range results {
		out[r.Document.RelPath] = r
	}
	return out
}

// ---------------------------------------------------------------------------
// Discover
// ---------------------------------------------------------------------------

func TestDiscover(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"4997_Project_Plan.pdf":  "%PDF-1.4 not really a pdf",
		"4997_Project_Plan.md":   "# Project Plan\n\n--- Page 1 ---\n\nThe project start date is 1 March 2021.\n",
		"Land_Tenure.md":         "# Land Tenure\n\nThe land owner is Jane Smith.\n",
		"annex/data.bin":         "\x00\x01\x02\x03",
		".hidden/notes.md":       "# Notes\n",
		"annex/.DS_Store":        "junk",
		"annex/~$draft.xlsx":     "lock file",
		"annex/Sampling_Plan.md": "# Soil sampling design\n\nBulk density cores.\n",
	})

	results, err := newDiscoverer(config.Default().Discovery).Discover(context.Background(), root)
	require.NoError(t, err)

	var paths []string
	for _, r := range results {
		paths = append(paths, r.Document.RelPath)
	}
	assert.Equal(t, []string{
		"4997_Project_Plan.pdf",
		"Land_Tenure.md",
		"annex/Sampling_Plan.md",
		"annex/data.bin",
	}, paths, "ordered by path with hidden files excluded and the sibling rendering consumed")

	docs := byPath(results)

	plan := docs["4997_Project_Plan.pdf"]
	assert.Equal(t, review.DocProjectPlan, plan.Document.Type)
	assert.Equal(t, string(classify.MatchFilename), plan.Document.MatchSource)
	assert.Equal(t, "sibling-markdown", plan.Document.Renderer)
	assert.Equal(t, 1, plan.Document.PageCount)
	assert.Equal(t, filepath.Join(root, "4997_Project_Plan.md"), plan.Document.RenderingPath)
	assert.Contains(t, plan.Text, "1 March 2021")
	assert.Empty(t, plan.Document.RenderError)

	tenure := docs["Land_Tenure.md"]
	assert.Equal(t, review.DocLandTenure, tenure.Document.Type)
	assert.Equal(t, "Land_Tenure.md", tenure.Document.Filename)
	assert.Contains(t, tenure.Text, "Jane Smith")

	sampling := docs["annex/Sampling_Plan.md"]
	assert.Equal(t, review.DocSamplingReport, sampling.Document.Type)

	unknown := docs["annex/data.bin"]
	assert.Equal(t, review.DocUnknown, unknown.Document.Type)
	assert.NotEmpty(t, unknown.Document.RenderError, "unrenderable files are kept with the error recorded")
	assert.Equal(t, int64(4), unknown.Document.SizeBytes)

	ids := map[string]bool{}
	for _, r := range results {
		ids[r.Document.ID] = true
	}
	assert.Len(t, ids, len(results), "document IDs are unique")
}

func TestDiscover_IncludeExclude(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"plan.md":          "# Project Plan\n",
		"maps/cover.md":    "# Land cover classification\n",
		"drafts/old.md":    "# Old\n",
		"notes/readme.txt": "notes",
	})
	cfg := config.Default().Discovery
	cfg.Include = []string{"**/*.md"}
	cfg.Exclude = []string{"drafts/**"}

	results, err := newDiscoverer(cfg).Discover(context.Background(), root)
	require.NoError(t, err)

	var paths []string
	for _, r := range results {
		paths = append(paths, r.Document.RelPath)
	}
	assert.Equal(t, []string{"maps/cover.md", "plan.md"}, paths)
}

func TestDiscover_FileSizeLimit(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"Monitoring_Report.md": "# Monitoring report\n\nA long rendering that exceeds the limit.\n",
	})
	cfg := config.Default().Discovery
	cfg.MaxFileBytes = 16

	results, err := newDiscoverer(cfg).Discover(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Document.RenderError, "larger than the 16 byte limit")
	assert.Equal(t, review.DocMonitoringReport, results[0].Document.Type, "classified by filename without text")
}

func TestDiscover_Errors(t *testing.T) {
	root := writeFiles(t, map[string]string{"plan.md": "# Plan\n"})

	tests := []struct {
		name    string
		cfg     func(*config.DiscoveryConfig)
		root    string
		wantErr string
	}{
		{
			name:    "missing source",
			root:    filepath.Join(root, "missing"),
			wantErr: "source",
		},
		{
			name:    "source is a file",
			root:    filepath.Join(root, "plan.md"),
			wantErr: "is not a directory",
		},
		{
			name:    "invalid pattern",
			cfg:     func(c *config.DiscoveryConfig) { c.Include = []string{"[unclosed"} },
			root:    root,
			wantErr: "invalid glob pattern",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Discovery
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			_, err := newDiscoverer(cfg).Discover(context.Background(), tt.root)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDiscover_Cancelled(t *testing.T) {
	root := writeFiles(t, map[string]string{"plan.md": "# Plan\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newDiscoverer(config.Default().Discovery).Discover(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
}
