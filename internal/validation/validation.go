// SPDX-License-Identifier: Apache-2.0

// Package validation cross-checks the structured fields extracted for a
// session. Tier 1 checks single values, Tier 2 compares values across
// documents, and Tier 3 asks the oracle for an advisory assessment when the
// deterministic tiers had too little to work with.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/oracle"
	"github.com/gemaraproj/registry-review/internal/review"
)

// Completer is the oracle used for the advisory tier.
type Completer interface {
	Available() bool
	Complete(ctx context.Context, req oracle.Request) (oracle.Response, error)
}

// Validator produces a ValidationReport from extracted evidence.
type Validator struct {
	cfg       config.ValidationConfig
	idFormats []*regexp.Regexp
	oracle    Completer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithOracle enables the advisory tier.
func WithOracle(c Completer) Option {
	return func(v *Validator) {
		v.oracle = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// New creates a Validator. Identifier formats are compiled once.
func New(cfg config.ValidationConfig, opts ...Option) (*Validator, error) {
	v := &Validator{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, f := range cfg.IdentifierFormats {
		re, err := regexp.Compile(f)
		if err != nil {
			return nil, fmt.Errorf("invalid identifier format %q: %w", f, err)
		}
		v.idFormats = append(v.idFormats, re)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// observation is one distinct extracted value.
type observation struct {
	review.ExtractedField
	requirementID string
}

// run accumulates the findings of one validation.
type run struct {
	findings []review.ValidationFinding
	checks   map[review.Tier]int
	notes    []string
}

func (r *run) add(f review.ValidationFinding) {
	f.Reproducible = f.Tier != review.TierSynthesized
	r.findings = append(r.findings, f)
	r.checks[f.Tier]++
}

// Validate runs every tier over items. Sparse or absent fields never cause an
// error; only a fatal oracle failure or cancellation does.
func (v *Validator) Validate(ctx context.Context, items []review.RequirementEvidence) (*review.ValidationReport, error) {
	obs := collect(items)
	r := &run{checks: map[review.Tier]int{
		review.TierStructural:    0,
		review.TierCrossDocument: 0,
		review.TierSynthesized:   0,
	}}

	v.structural(r, obs)
	v.crossDocument(r, obs)

	deterministic := r.checks[review.TierStructural] + r.checks[review.TierCrossDocument]
	if deterministic < v.cfg.LLMMinChecks {
		if v.oracle != nil && v.oracle.Available() {
			if err := v.synthesized(ctx, r, items); err != nil {
				return nil, err
			}
		} else {
			r.notes = append(r.notes, "advisory assessment skipped: no oracle transport is available")
		}
	}

	sortFindings(r.findings)
	for i := range r.findings {
		r.findings[i].ID = fmt.Sprintf("F-%03d", i+1)
	}

	report := &review.ValidationReport{
		ValidatedAt: v.now().UTC(),
		ChecksRun:   r.checks,
		Findings:    r.findings,
		Notes:       r.notes,
	}
	if report.Findings == nil {
		report.Findings = []review.ValidationFinding{}
	}
	report.Status = status(report)
	report.Summary = summarize(report)
	v.logger.Debug("validation finished", "status", report.Status, "checks", report.TotalChecks())
	return report, nil
}

// collect returns distinct (field, value, document) observations in
// requirement order.
func collect(items []review.RequirementEvidence) []observation {
	seen := make(map[string]bool)
	var out []observation
	for _, item := range items {
		for _, f := range item.Fields {
			key := f.Name + "\x00" + strings.ToLower(strings.TrimSpace(f.Value)) + "\x00" + f.DocumentID
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, observation{ExtractedField: f, requirementID: item.RequirementID})
		}
	}
	return out
}

func byField(obs []observation, name string) []observation {
	var out []observation
	for _, o := range obs {
		if o.Name == name {
			out = append(out, o)
		}
	}
	return out
}

func sortFindings(findings []review.ValidationFinding) {
	order := make(map[review.CheckType]int, len(review.CheckTypes))
	for i, ct := range review.CheckTypes {
		order[ct] = i
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return order[findings[i].CheckType] < order[findings[j].CheckType]
	})
}

func status(r *review.ValidationReport) review.ValidationStatus {
	if r.TotalChecks() == 0 {
		return review.ValidationNoChecks
	}
	result := review.ValidationPassed
	for _, f := range r.Findings {
		switch {
		case f.Severity == review.SeverityFail && !f.Advisory:
			return review.ValidationFailed
		case f.Severity != review.SeverityPass:
			result = review.ValidationWarnings
		}
	}
	return result
}

func summarize(r *review.ValidationReport) string {
	total := r.TotalChecks()
	if total == 0 {
		return "0 checks ran: no structured fields were available to validate"
	}
	counts := review.SeverityCounts(r.Findings)
	s := fmt.Sprintf("%d checks ran (%d structural, %d cross-document, %d advisory): %d failed, %d warnings, %d passed",
		total,
		r.ChecksRun[review.TierStructural],
		r.ChecksRun[review.TierCrossDocument],
		r.ChecksRun[review.TierSynthesized],
		counts[review.SeverityFail],
		counts[review.SeverityWarning],
		counts[review.SeverityPass])
	if r.ChecksRun[review.TierStructural]+r.ChecksRun[review.TierCrossDocument] == 0 {
		s += "; 0 deterministic checks ran, advisory findings only"
	}
	return s
}
