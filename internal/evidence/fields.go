// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gemaraproj/registry-review/internal/oracle"
	"github.com/gemaraproj/registry-review/internal/review"
)

const fieldSystemPrompt = `You extract facts from carbon project registration documents.
Only report values that are written in the documents. For every value, copy the
exact sentence it appears in as raw_text and name the document it came from.
Reply with a single JSON object and nothing else.`

var fieldDescriptions = map[string]string{
	review.FieldProjectID:        "registry project identifier, e.g. C06-4997",
	review.FieldProjectStartDate: "date the project started",
	review.FieldImageryDate:      "acquisition date of the satellite or aerial imagery",
	review.FieldSamplingDate:     "date soil samples were collected",
	review.FieldBaselineDate:     "date of the baseline assessment",
	review.FieldLandArea:         "project land area with its unit",
	review.FieldOwnerName:        "name of the landowner or title holder",
}

// oracleClaim is one field reported by the oracle.
type oracleClaim struct {
	Field      string  `json:"field"`
	Value      string  `json:"value"`
	RawText    string  `json:"raw_text"`
	Document   string  `json:"document"`
	Confidence float64 `json:"confidence"`
}

type oracleReply struct {
	Fields []oracleClaim `json:"fields"`
}

// extractFields proposes the requirement's declared fields from the rule
// table and, when enabled, the oracle. Every candidate passes the noise
// filter and citation verification; rejected candidates become notes.
func (e *Extractor) extractFields(ctx context.Context, run *extraction, r review.Requirement, docs []*Document) ([]review.ExtractedField, []string, error) {
	var fields []review.ExtractedField
	var notes []string

	for _, doc := range docs {
		for _, c := range e.fields.Map(doc.Text, r.Fields) {
			f, note, ok := e.accept(run.noise, doc, c.Field, c.Value, c.RawText, review.FieldFromPattern)
			if !ok {
				if note != "" {
					notes = append(notes, note)
				}
				continue
			}
			f.Page = doc.PageAt(c.Offset)
			fields = append(fields, f)
		}
	}

	if e.oracle != nil && e.cfg.UseOracle && e.oracle.Available() {
		claims, err := e.askOracle(ctx, r, docs)
		if err != nil {
			return dedupeFields(fields), notes, err
		}
		declared := make(map[string]bool, len(r.Fields))
		for _, name := range r.Fields {
			declared[name] = true
		}
		for _, cl := range claims {
			if !declared[cl.Field] {
				continue
			}
			doc := findDocument(docs, cl.Document)
			if doc == nil {
				notes = append(notes, fmt.Sprintf("rejected %s=%q: cited document %q is not mapped to %s", cl.Field, cl.Value, cl.Document, r.ID))
				e.observe(string(Rejected))
				continue
			}
			f, note, ok := e.accept(run.noise, doc, cl.Field, cl.Value, cl.RawText, review.FieldFromOracle)
			if !ok {
				if note != "" {
					notes = append(notes, note)
				}
				continue
			}
			if cl.Confidence > 0 && cl.Confidence < f.Confidence {
				f.Confidence = cl.Confidence
			}
			if idx := locate(doc.Text, cl.RawText, cl.Value); idx >= 0 {
				f.Page = doc.PageAt(idx)
			}
			fields = append(fields, f)
		}
	}
	return dedupeFields(fields), notes, nil
}

func (e *Extractor) accept(noise *NoiseFilter, doc *Document, field, value, rawText string, source review.FieldSource) (review.ExtractedField, string, bool) {
	if reason := noise.Reason(field, value, rawText); reason != "" {
		e.observe("filtered")
		return review.ExtractedField{}, fmt.Sprintf("ignored %s=%q from %s: %s", field, value, doc.Meta.Filename, reason), false
	}
	v := e.verifier.Check(field, value, rawText, doc.Source())
	e.observe(string(v.Result))
	if v.Result == Rejected {
		return review.ExtractedField{}, fmt.Sprintf("rejected %s=%q: not found in %s", field, value, doc.Meta.Filename), false
	}
	return review.ExtractedField{
		Name:       field,
		Value:      value,
		RawText:    rawText,
		DocumentID: doc.Meta.ID,
		Filename:   doc.Meta.Filename,
		Confidence: v.Confidence,
		Similarity: v.Similarity,
		Verified:   v.Result == Verified,
		Source:     source,
	}, "", true
}

func (e *Extractor) askOracle(ctx context.Context, r review.Requirement, docs []*Document) ([]oracleClaim, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Requirement %s: %s\n", r.ID, r.Description)
	if r.AcceptedEvidence != "" {
		fmt.Fprintf(&b, "Accepted evidence: %s\n", r.AcceptedEvidence)
	}
	b.WriteString("\nFields to extract:\n")
	for _, name := range r.Fields {
		fmt.Fprintf(&b, "- %s: %s\n", name, fieldDescriptions[name])
	}
	b.WriteString("\nReply format: {\"fields\": [{\"field\": \"...\", \"value\": \"...\", \"raw_text\": \"...\", \"document\": \"<filename>\", \"confidence\": 0.0}]}\n")
	b.WriteString("Omit fields that the documents do not state.\n")

	budget := e.cfg.OracleExcerptChars / len(docs)
	for _, doc := range docs {
		excerpt := doc.Text
		if rs := []rune(excerpt); len(rs) > budget {
			excerpt = string(rs[:budget])
		}
		fmt.Fprintf(&b, "\n=== Document: %s ===\n%s\n", doc.Meta.Filename, excerpt)
	}

	resp, err := e.oracle.Complete(ctx, oracle.Request{
		System: fieldSystemPrompt,
		Prompt: b.String(),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}
	var reply oracleReply
	if err := oracle.DecodeJSON(resp.Text, &reply); err != nil {
		return nil, fmt.Errorf("unusable oracle reply: %w", err)
	}
	return reply.Fields, nil
}

func findDocument(docs []*Document, ref string) *Document {
	ref = strings.TrimSpace(ref)
	for _, d := range docs {
		if d.Meta.ID == ref || strings.EqualFold(d.Meta.Filename, ref) || strings.EqualFold(d.Meta.RelPath, ref) {
			return d
		}
	}
	return nil
}

func locate(text, rawText, value string) int {
	if rawText != "" {
		if idx := strings.Index(text, rawText); idx >= 0 {
			return idx
		}
	}
	if value != "" {
		return strings.Index(text, value)
	}
	return -1
}

// dedupeFields keeps the most confident field per (name, value, document),
// ordered by name, descending confidence, then document.
func dedupeFields(fields []review.ExtractedField) []review.ExtractedField {
	type key struct{ name, value, doc string }
	best := make(map[key]int)
	var out []review.ExtractedField
	for _, f := range fields {
		k := key{f.Name, Normalize(f.Value), f.DocumentID}
		if i, ok := best[k]; ok {
			if f.Confidence > out[i].Confidence {
				out[i] = f
			}
			continue
		}
		best[k] = len(out)
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Filename < out[j].Filename
	})
	return out
}
