// SPDX-License-Identifier: Apache-2.0

// Package discovery walks a submission folder, renders every matching file to
// text and classifies it. Unrenderable and unrecognized files are kept as
// reviewable documents.
package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/gemaraproj/registry-review/internal/classify"
	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/gemaraproj/registry-review/internal/review"
)

// renderingExts are the pre-rendered formats accepted as a sibling rendering
// of a binary file with the same stem.
var renderingExts = []string{".md", ".markdown"}

// textExts never take a sibling rendering; they are their own text.
var textExts = map[string]bool{
	".md": true, ".markdown": true, ".txt": true, ".text": true,
	".yaml": true, ".yml": true, ".json": true, ".csv": true, ".tsv": true,
	".html": true, ".htm": true,
}

// Result is one discovered document with its rendering text.
type Result struct {
	Document review.Document
	Text     string
}

// Discoverer finds, renders and classifies documents.
type Discoverer struct {
	cfg        config.DiscoveryConfig
	renderer   *evidence.Renderer
	classifier *classify.Classifier
	logger     *slog.Logger
	newID      func() string
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Discoverer) {
		d.logger = logger
	}
}

// WithIDFunc overrides document ID generation.
func WithIDFunc(fn func() string) Option {
	return func(d *Discoverer) {
		d.newID = fn
	}
}

// New creates a Discoverer.
func New(cfg config.DiscoveryConfig, renderer *evidence.Renderer, classifier *classify.Classifier, opts ...Option) *Discoverer {
	d := &Discoverer{
		cfg:        cfg,
		renderer:   renderer,
		classifier: classifier,
		logger:     slog.Default(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate checks that every include and exclude pattern is well formed.
func (d *Discoverer) Validate() error {
	for _, p := range append(append([]string{}, d.cfg.Include...), d.cfg.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

// Discover returns the documents under root ordered by relative path.
func (d *Discoverer) Discover(ctx context.Context, root string) ([]Result, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", root)
	}

	paths, err := d.walk(ctx, root)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
	}
	renderings := make(map[string]string)
	for _, p := range paths {
		if sibling := siblingRendering(p, present); sibling != "" {
			renderings[p] = sibling
		}
	}
	consumed := make(map[string]bool, len(renderings))
	for _, sibling := range renderings {
		consumed[sibling] = true
	}

	var results []Result
	for _, rel := range paths {
		if consumed[rel] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, d.document(ctx, root, rel, renderings[rel]))
	}
	d.logger.Info("documents discovered", "source", root, "documents", len(results), "renderings", len(renderings))
	return results, nil
}

func (d *Discoverer) walk(ctx context.Context, root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if entry.IsDir() {
			if d.excluded(rel) || d.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if d.included(rel) && !d.excluded(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, nil
}

func (d *Discoverer) included(rel string) bool {
	return matchAny(d.cfg.Include, rel)
}

func (d *Discoverer) excluded(rel string) bool {
	return matchAny(d.cfg.Exclude, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// siblingRendering returns the pre-rendered markdown beside rel, if any.
func siblingRendering(rel string, present map[string]bool) string {
	ext := strings.ToLower(filepath.Ext(rel))
	if ext == "" || textExts[ext] {
		return ""
	}
	stem := strings.TrimSuffix(rel, filepath.Ext(rel))
	for _, rext := range renderingExts {
		if candidate := stem + rext; present[candidate] {
			return candidate
		}
	}
	return ""
}

func (d *Discoverer) document(ctx context.Context, root, rel, rendering string) Result {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	doc := review.Document{
		ID:          d.newID(),
		Filename:    filepath.Base(rel),
		RelPath:     rel,
		ContentPath: abs,
	}

	text, err := d.render(ctx, abs, rel, rendering, &doc)
	if err != nil {
		doc.RenderError = err.Error()
		d.logger.Warn("document could not be rendered", "document", rel, "error", err)
	}

	result := d.classifier.Classify(doc.Filename, text)
	doc.Type = result.Type
	doc.MatchedPattern = result.MatchedPattern
	doc.MatchSource = string(result.Source)
	return Result{Document: doc, Text: text}
}

func (d *Discoverer) render(ctx context.Context, abs, rel, rendering string, doc *review.Document) (string, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	doc.SizeBytes = info.Size()

	if rendering != "" {
		renderingAbs := filepath.Join(filepath.Dir(abs), filepath.Base(rendering))
		data, err := os.ReadFile(renderingAbs)
		if err != nil {
			return "", fmt.Errorf("read rendering %s: %w", rendering, err)
		}
		text := string(data)
		doc.RenderingPath = renderingAbs
		doc.Renderer = "sibling-markdown"
		doc.PageCount = evidence.CountPages(text)
		return text, nil
	}

	if info.Size() > d.cfg.MaxFileBytes {
		return "", fmt.Errorf("file is %d bytes, larger than the %d byte limit", info.Size(), d.cfg.MaxFileBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	r, err := d.renderer.Render(ctx, evidence.Source{
		Content: data,
		Format:  strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), "."),
		ID:      rel,
	})
	if err != nil {
		return "", err
	}
	doc.Renderer = r.Parser
	doc.PageCount = r.PageCount
	return r.Text, nil
}
