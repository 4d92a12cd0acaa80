// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gemaraproj/registry-review/internal/evidence"
	"github.com/goccy/go-yaml"
)

// YAMLParser renders YAML and JSON metadata files (registry exports, project
// metadata) as markdown: each top-level key becomes a heading followed by its
// value, so keyword matches can cite the key as their section.
type YAMLParser struct{}

func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

func (p *YAMLParser) Name() string {
	return "yaml"
}

func (p *YAMLParser) CanHandle(source evidence.Source) bool {
	switch strings.ToLower(source.Format) {
	case "yaml", "yml", "json":
		return true
	case "":
	default:
		return false
	}
	if !isText(source.Content) {
		return false
	}
	content := strings.TrimSpace(string(source.Content))
	// JSON object
	if strings.HasPrefix(content, "{") {
		return true
	}
	// Plain YAML: key: value at the start
	if len(content) > 0 && strings.Contains(strings.SplitN(content, "\n", 2)[0], ":") {
		// Avoid stealing markdown or HTML
		if !strings.HasPrefix(content, "#") && !strings.HasPrefix(content, "<") {
			return true
		}
	}
	return false
}

func (p *YAMLParser) Parse(_ context.Context, source evidence.Source) (evidence.Rendering, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(source.Content, &doc); err != nil {
		return evidence.Rendering{}, fmt.Errorf("failed to unmarshal YAML/JSON: %w", err)
	}

	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		value := doc[key]
		rendered, err := yaml.Marshal(value)
		if err != nil {
			rendered = []byte(fmt.Sprintf("%v", value))
		}
		fmt.Fprintf(&b, "## %s\n%s: %s\n\n", key, key, strings.TrimSpace(string(rendered)))
	}
	return evidence.Rendering{Text: b.String()}, nil
}
