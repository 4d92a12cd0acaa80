// SPDX-License-Identifier: Apache-2.0

// Package catalog provides the static, per-methodology requirement checklists.
// Catalogs are YAML documents validated against a CUE schema when loaded and
// never mutated afterwards, so a Registry is safe to share between sessions.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/gemaraproj/registry-review/internal/review"
)

//go:embed catalogs/*.yaml
var embedded embed.FS

// Catalog is one methodology's checklist.
type Catalog struct {
	Methodology  string               `yaml:"methodology" json:"methodology"`
	Version      string               `yaml:"version" json:"version"`
	Title        string               `yaml:"title" json:"title,omitempty"`
	Requirements []review.Requirement `yaml:"requirements" json:"requirements"`
}

// Registry holds catalogs keyed by methodology.
type Registry struct {
	catalogs map[string]*Catalog
}

// Load returns a Registry with the embedded catalogs plus every *.yaml or
// *.yml file in dir. A catalog in dir replaces an embedded one with the same
// methodology key.
func Load(dir string) (*Registry, error) {
	r := &Registry{catalogs: make(map[string]*Catalog)}

	if err := r.loadFS(embedded, "catalogs"); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := r.loadFS(os.DirFS(dir), "."); err != nil {
			return nil, fmt.Errorf("load catalogs from %s: %w", dir, err)
		}
	}
	return r, nil
}

// New returns a Registry holding exactly the given catalogs.
func New(catalogs ...*Catalog) *Registry {
	r := &Registry{catalogs: make(map[string]*Catalog, len(catalogs))}
	for _, c := range catalogs {
		r.catalogs[c.Methodology] = c
	}
	return r
}

func (r *Registry) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, entry.Name())))
		if err != nil {
			return err
		}
		c, err := Parse(entry.Name(), data)
		if err != nil {
			return err
		}
		r.catalogs[c.Methodology] = c
	}
	return nil
}

// Parse validates data against the catalog schema and decodes it.
func Parse(name string, data []byte) (*Catalog, error) {
	if err := validateSchema(name, data); err != nil {
		return nil, err
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", name, err)
	}

	seen := make(map[string]bool, len(c.Requirements))
	for _, req := range c.Requirements {
		if seen[req.ID] {
			return nil, fmt.Errorf("catalog %s: duplicate requirement id %q", name, req.ID)
		}
		seen[req.ID] = true
	}
	return &c, nil
}

// Methodologies returns the known methodology keys, sorted.
func (r *Registry) Methodologies() []string {
	keys := make([]string, 0, len(r.catalogs))
	for k := range r.catalogs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Catalog returns the catalog for methodology.
func (r *Registry) Catalog(methodology string) (*Catalog, bool) {
	c, ok := r.catalogs[methodology]
	return c, ok
}

// Requirements returns a copy of the requirements of methodology that apply
// to scope, in catalog order.
func (r *Registry) Requirements(methodology string, scope review.Scope) ([]review.Requirement, error) {
	c, ok := r.catalogs[methodology]
	if !ok {
		return nil, fmt.Errorf("unknown methodology %q (known: %s)", methodology, strings.Join(r.Methodologies(), ", "))
	}

	out := make([]review.Requirement, 0, len(c.Requirements))
	for _, req := range c.Requirements {
		if !scope.Includes(req.Scope) {
			continue
		}
		cp := req
		cp.Fields = append([]string(nil), req.Fields...)
		out = append(out, cp)
	}
	return out, nil
}

// Requirement returns one requirement of methodology by id.
func (r *Registry) Requirement(methodology, id string) (review.Requirement, bool) {
	reqs, err := r.Requirements(methodology, review.ScopeAll)
	if err != nil {
		return review.Requirement{}, false
	}
	for _, req := range reqs {
		if req.ID == id {
			return req, true
		}
	}
	return review.Requirement{}, false
}
