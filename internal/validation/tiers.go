// SPDX-License-Identifier: Apache-2.0

package validation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gemaraproj/registry-review/internal/oracle"
	"github.com/gemaraproj/registry-review/internal/review"
)

// structural runs the Tier 1 single-value checks.
func (v *Validator) structural(r *run, obs []observation) {
	for _, o := range obs {
		f := review.ValidationFinding{
			Tier:          review.TierStructural,
			Documents:     []string{o.Filename},
			Fields:        []string{o.Name},
			RequirementID: o.requirementID,
		}
		switch {
		case review.IsDateField(o.Name):
			f.CheckType = review.CheckDateFormat
			if t, ok := review.ParseDate(o.Value); ok {
				f.Severity = review.SeverityPass
				f.Message = fmt.Sprintf("%s %s in %s is a valid date", o.Name, review.FormatDate(t), o.Filename)
			} else {
				f.Severity = review.SeverityFail
				f.Message = fmt.Sprintf("%s %q in %s is not a valid date", o.Name, o.Value, o.Filename)
			}
		case o.Name == review.FieldProjectID:
			f.CheckType = review.CheckIdentifierFormat
			if v.validIdentifier(o.Value) {
				f.Severity = review.SeverityPass
				f.Message = fmt.Sprintf("project identifier %s in %s matches a registry format", o.Value, o.Filename)
			} else {
				f.Severity = review.SeverityFail
				f.Message = fmt.Sprintf("project identifier %q in %s does not match any registry format", o.Value, o.Filename)
			}
		case o.Name == review.FieldLandArea:
			f.CheckType = review.CheckAreaValue
			if a, ok := review.ParseArea(o.Value); ok && a > 0 {
				f.Severity = review.SeverityPass
				f.Message = fmt.Sprintf("land area %s in %s is a positive quantity", o.Value, o.Filename)
			} else {
				f.Severity = review.SeverityFail
				f.Message = fmt.Sprintf("land area %q in %s is not a positive quantity", o.Value, o.Filename)
			}
		default:
			f.CheckType = ""
		}
		if f.CheckType != "" {
			r.add(f)
		}

		verification := review.ValidationFinding{
			CheckType:     review.CheckFieldVerification,
			Tier:          review.TierStructural,
			Documents:     []string{o.Filename},
			Fields:        []string{o.Name},
			RequirementID: o.requirementID,
		}
		if o.Verified {
			verification.Severity = review.SeverityPass
			verification.Message = fmt.Sprintf("%s %q is quoted verbatim from %s", o.Name, o.Value, o.Filename)
		} else {
			verification.Severity = review.SeverityWarning
			verification.Message = fmt.Sprintf("%s %q could not be matched to its quote in %s (similarity %.2f); confirm it by hand",
				o.Name, o.Value, o.Filename, o.Similarity)
		}
		r.add(verification)
	}
}

func (v *Validator) validIdentifier(value string) bool {
	for _, re := range v.idFormats {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// crossDocument runs the Tier 2 comparisons. A comparison that would fail
// only because of values whose quotes were not verified is reported as a
// warning naming those values.
func (v *Validator) crossDocument(r *run, obs []observation) {
	for _, pair := range v.cfg.DatePairs {
		v.datePair(r, obs, pair.First, pair.Second, pair.MaxDays)
	}
	for _, name := range review.FieldNames {
		if review.IsDateField(name) {
			v.dateAgreement(r, name, byField(obs, name))
		}
	}
	v.areaAgreement(r, byField(obs, review.FieldLandArea))
	v.ownerAgreement(r, byField(obs, review.FieldOwnerName))
	v.identifierConsistency(r, byField(obs, review.FieldProjectID))
}

type datedObservation struct {
	observation
	date time.Time
}

func datedValues(obs []observation) []datedObservation {
	var out []datedObservation
	for _, o := range obs {
		if t, ok := review.ParseDate(o.Value); ok {
			out = append(out, datedObservation{observation: o, date: t})
		}
	}
	return out
}

func daysBetween(a, b time.Time) int {
	return int(math.Round(math.Abs(b.Sub(a).Hours()) / 24))
}

type datedPair struct {
	a, b datedObservation
	days int
}

func (p datedPair) verified() bool {
	return p.a.Verified && p.b.Verified
}

// datePair compares every value of first with every value of second and
// reports the widest gap. It fails when two verified values are too far
// apart and warns when only pairs involving unverified values are.
func (v *Validator) datePair(r *run, obs []observation, first, second string, maxDays int) {
	as := datedValues(byField(obs, first))
	bs := datedValues(byField(obs, second))
	if len(as) == 0 || len(bs) == 0 {
		var missing []string
		if len(as) == 0 {
			missing = append(missing, first)
		}
		if len(bs) == 0 {
			missing = append(missing, second)
		}
		r.notes = append(r.notes, fmt.Sprintf("date alignment %s/%s not checked: %s not extracted",
			first, second, strings.Join(missing, " and ")))
		return
	}

	var worst, worstVerified *datedPair
	var names []string
	for _, a := range as {
		for _, b := range bs {
			p := datedPair{a: a, b: b, days: daysBetween(a.date, b.date)}
			names = append(names, a.Filename, b.Filename)
			if worst == nil || p.days > worst.days {
				worst = &p
			}
			if p.verified() && (worstVerified == nil || p.days > worstVerified.days) {
				worstVerified = &p
			}
		}
	}

	f := review.ValidationFinding{
		CheckType: review.CheckDateAlignment,
		Tier:      review.TierCrossDocument,
		Fields:    []string{first, second},
	}
	gap := func(p *datedPair) string {
		return fmt.Sprintf("%s %s (%s) and %s %s (%s) are %d days apart; the maximum is %d days",
			first, review.FormatDate(p.a.date), p.a.Filename, second, review.FormatDate(p.b.date), p.b.Filename, p.days, maxDays)
	}
	switch {
	case worstVerified != nil && worstVerified.days > maxDays:
		f.Severity = review.SeverityFail
		f.Documents = uniqueStrings(worstVerified.a.Filename, worstVerified.b.Filename)
		f.Message = gap(worstVerified)
	case worst.days > maxDays:
		f.Severity = review.SeverityFail
		f.Documents = uniqueStrings(worst.a.Filename, worst.b.Filename)
		f.Message = gap(worst)
		downgradeUnverified(&f, worst.a.observation, worst.b.observation)
	default:
		f.Severity = review.SeverityPass
		f.Documents = uniqueStrings(names...)
		f.Message = fmt.Sprintf("%s and %s are at most %d days apart, within %d days", first, second, worst.days, maxDays)
	}
	r.add(f)
}

// dateAgreement checks that documents stating the same date field agree on
// the day.
func (v *Validator) dateAgreement(r *run, name string, obs []observation) {
	dated := datedValues(obs)
	docs := make(map[string]bool)
	for _, d := range dated {
		docs[d.DocumentID] = true
	}
	if len(docs) < 2 {
		return
	}

	byDay := make(map[string][]string)
	var days, names []string
	for _, d := range dated {
		day := review.FormatDate(d.date)
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], d.Filename)
		names = append(names, d.Filename)
	}
	sort.Strings(days)

	f := review.ValidationFinding{
		CheckType: review.CheckDateAgreement,
		Tier:      review.TierCrossDocument,
		Documents: uniqueStrings(names...),
		Fields:    []string{name},
	}
	if len(days) == 1 {
		f.Severity = review.SeverityPass
		f.Message = fmt.Sprintf("%s %s agrees across %d documents", name, days[0], len(docs))
	} else {
		var parts []string
		for _, day := range days {
			parts = append(parts, fmt.Sprintf("%s in %s", day, strings.Join(uniqueStrings(byDay[day]...), ", ")))
		}
		f.Severity = review.SeverityWarning
		f.Message = fmt.Sprintf("%s differs across documents: %s", name, strings.Join(parts, "; "))
	}
	r.add(f)
}

// downgradeUnverified turns a failing finding into a warning when any of the
// values it rests on is unverified, and names those values.
func downgradeUnverified(f *review.ValidationFinding, obs ...observation) {
	if f.Severity != review.SeverityFail {
		return
	}
	var unverified []string
	for _, o := range obs {
		if !o.Verified {
			unverified = append(unverified, fmt.Sprintf("%s in %s", o.Name, o.Filename))
		}
	}
	if len(unverified) == 0 {
		return
	}
	f.Severity = review.SeverityWarning
	f.Message += fmt.Sprintf(" (unverified %s; confirm by hand)", strings.Join(uniqueStrings(unverified...), ", "))
}

type docValue struct {
	observation
	area float64
}

// perDocument keeps the most confident observation per document, ordered
// by filename.
func perDocument(obs []observation) []observation {
	best := make(map[string]observation)
	for _, o := range obs {
		if cur, ok := best[o.DocumentID]; !ok || o.Confidence > cur.Confidence {
			best[o.DocumentID] = o
		}
	}
	out := make([]observation, 0, len(best))
	for _, o := range best {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Filename != out[j].Filename {
			return out[i].Filename < out[j].Filename
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

func (v *Validator) areaAgreement(r *run, obs []observation) {
	var values []docValue
	for _, o := range perDocument(obs) {
		if a, ok := review.ParseArea(o.Value); ok && a > 0 {
			values = append(values, docValue{observation: o, area: a})
		}
	}
	if len(values) < 2 {
		return
	}

	ref := values[0]
	for _, dv := range values[1:] {
		if dv.Confidence > ref.Confidence {
			ref = dv
		}
	}
	var disagree []string
	involved := []observation{ref.observation}
	verifiedConflict := false
	for _, dv := range values {
		if math.Abs(dv.area-ref.area) > ref.area*v.cfg.AreaTolerance {
			disagree = append(disagree, fmt.Sprintf("%s states %s", dv.Filename, dv.Value))
			involved = append(involved, dv.observation)
			if ref.Verified && dv.Verified {
				verifiedConflict = true
			}
		}
	}

	f := review.ValidationFinding{
		CheckType: review.CheckAreaAgreement,
		Tier:      review.TierCrossDocument,
		Documents: filenames(values),
		Fields:    []string{review.FieldLandArea},
	}
	if len(disagree) == 0 {
		f.Severity = review.SeverityPass
		f.Message = fmt.Sprintf("land area agrees across %d documents (%.2f ha)", len(values), ref.area)
	} else {
		f.Severity = review.SeverityFail
		f.Message = fmt.Sprintf("land area disagrees with %s (%s): %s", ref.Filename, ref.Value, strings.Join(disagree, "; "))
		if !verifiedConflict {
			downgradeUnverified(&f, involved...)
		}
	}
	r.add(f)
}

func (v *Validator) ownerAgreement(r *run, obs []observation) {
	docs := perDocument(obs)
	if len(docs) < 2 {
		return
	}
	forms := make(map[string][]string)
	var order []string
	var names []string
	for _, o := range docs {
		c := review.CanonicalOwner(o.Value)
		if _, ok := forms[c]; !ok {
			order = append(order, c)
		}
		forms[c] = append(forms[c], o.Filename)
		names = append(names, o.Filename)
	}

	f := review.ValidationFinding{
		CheckType: review.CheckOwnerAgreement,
		Tier:      review.TierCrossDocument,
		Documents: uniqueStrings(names...),
		Fields:    []string{review.FieldOwnerName},
	}
	if len(order) == 1 {
		f.Severity = review.SeverityPass
		f.Message = fmt.Sprintf("owner %q agrees across %d documents", docs[0].Value, len(docs))
	} else {
		var parts []string
		for _, c := range order {
			parts = append(parts, fmt.Sprintf("%q in %s", c, strings.Join(forms[c], ", ")))
		}
		f.Severity = review.SeverityWarning
		f.Message = "owner names differ across documents: " + strings.Join(parts, "; ")
	}
	r.add(f)
}

func (v *Validator) identifierConsistency(r *run, obs []observation) {
	if len(obs) < 2 {
		return
	}
	canonical := make(map[string]map[string]bool)
	verified := make(map[string]bool)
	var order []string
	var names []string
	for _, o := range obs {
		c := review.CanonicalProjectID(o.Value)
		if o.Verified {
			verified[c] = true
		}
		if canonical[c] == nil {
			canonical[c] = make(map[string]bool)
			order = append(order, c)
		}
		canonical[c][o.Value] = true
		names = append(names, o.Filename)
	}

	f := review.ValidationFinding{
		CheckType: review.CheckIdentifierConsistency,
		Tier:      review.TierCrossDocument,
		Documents: uniqueStrings(names...),
		Fields:    []string{review.FieldProjectID},
	}
	switch {
	case len(order) > 1:
		f.Severity = review.SeverityFail
		f.Message = fmt.Sprintf("documents cite %d different project identifiers: %s", len(order), strings.Join(rawForms(canonical, order), ", "))
		if len(verified) < 2 {
			downgradeUnverified(&f, obs...)
		}
	case len(canonical[order[0]]) > 1:
		f.Severity = review.SeverityWarning
		f.Message = fmt.Sprintf("project identifier appears in %d forms (%s); confirm they refer to the same project",
			len(canonical[order[0]]), strings.Join(rawForms(canonical, order), ", "))
	default:
		f.Severity = review.SeverityPass
		f.Message = fmt.Sprintf("project identifier %s is consistent across documents", obs[0].Value)
	}
	r.add(f)
}

func rawForms(canonical map[string]map[string]bool, order []string) []string {
	var out []string
	for _, c := range order {
		var forms []string
		for raw := range canonical[c] {
			forms = append(forms, raw)
		}
		sort.Strings(forms)
		out = append(out, forms...)
	}
	return out
}

func filenames(values []docValue) []string {
	out := make([]string, len(values))
	for i, dv := range values {
		out[i] = dv.Filename
	}
	return uniqueStrings(out...)
}

func uniqueStrings(in ...string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

const assessmentSystemPrompt = `You are assisting a carbon registry reviewer. Judge whether the evidence
below is internally consistent and sufficient. Your findings are advisory.
Reply with a single JSON object and nothing else.`

// maxAssessmentItems bounds the prompt for large checklists.
const maxAssessmentItems = 40

type assessmentReply struct {
	Findings []struct {
		Severity      string   `json:"severity"`
		Message       string   `json:"message"`
		RequirementID string   `json:"requirement_id"`
		Documents     []string `json:"documents"`
	} `json:"findings"`
}

// synthesized asks the oracle for Tier 3 findings. They are advisory,
// never reproducible, and cannot fail the report.
func (v *Validator) synthesized(ctx context.Context, r *run, items []review.RequirementEvidence) error {
	var b strings.Builder
	b.WriteString("Requirement evidence:\n")
	for i, item := range items {
		if i == maxAssessmentItems {
			fmt.Fprintf(&b, "... %d more requirements omitted\n", len(items)-i)
			break
		}
		fmt.Fprintf(&b, "- %s: %s (confidence %.2f)", item.RequirementID, item.Status, item.Confidence)
		if len(item.Snippets) > 0 {
			s := item.Snippets[0]
			fmt.Fprintf(&b, "; best evidence from %s: %q", s.Filename, s.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReply format: {\"findings\": [{\"severity\": \"pass|warning|fail\", \"message\": \"...\", \"requirement_id\": \"...\", \"documents\": [\"...\"]}]}\n")

	resp, err := v.oracle.Complete(ctx, oracle.Request{
		System: assessmentSystemPrompt,
		Prompt: b.String(),
		JSON:   true,
	})
	if err != nil {
		if oracle.IsFatal(err) || ctx.Err() != nil {
			return fmt.Errorf("advisory assessment: %w", err)
		}
		v.logger.Warn("advisory assessment failed", "error", err)
		r.notes = append(r.notes, fmt.Sprintf("advisory assessment unavailable: %v", err))
		return nil
	}

	var reply assessmentReply
	if err := oracle.DecodeJSON(resp.Text, &reply); err != nil {
		r.notes = append(r.notes, fmt.Sprintf("advisory assessment unusable: %v", err))
		return nil
	}
	if len(reply.Findings) == 0 {
		r.checks[review.TierSynthesized]++
		r.notes = append(r.notes, "advisory assessment returned no findings")
		return nil
	}
	for _, af := range reply.Findings {
		sev := review.Severity(strings.ToLower(strings.TrimSpace(af.Severity)))
		switch sev {
		case review.SeverityPass, review.SeverityWarning, review.SeverityFail:
		default:
			sev = review.SeverityWarning
		}
		r.add(review.ValidationFinding{
			CheckType:     review.CheckLLMAssessment,
			Tier:          review.TierSynthesized,
			Severity:      sev,
			Documents:     af.Documents,
			Message:       "[advisory] " + af.Message,
			RequirementID: af.RequirementID,
			Advisory:      true,
		})
	}
	return nil
}
