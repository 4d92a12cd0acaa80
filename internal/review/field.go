// SPDX-License-Identifier: Apache-2.0

package review

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Structured field names a catalog requirement may declare.
const (
	FieldProjectID        = "project_id"
	FieldProjectStartDate = "project_start_date"
	FieldImageryDate      = "imagery_date"
	FieldSamplingDate     = "sampling_date"
	FieldBaselineDate     = "baseline_date"
	FieldLandArea         = "land_area_ha"
	FieldOwnerName        = "owner_name"
)

// FieldNames lists every known structured field.
var FieldNames = []string{
	FieldProjectID,
	FieldProjectStartDate,
	FieldImageryDate,
	FieldSamplingDate,
	FieldBaselineDate,
	FieldLandArea,
	FieldOwnerName,
}

// IsDateField reports whether the field holds a calendar date.
func IsDateField(name string) bool {
	return strings.HasSuffix(name, "_date")
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2/1/2006",
	"1/2/2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2-Jan-2006",
	"January 2006",
	"Jan 2006",
}

var (
	ordinalSuffix    = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)
	dateSeparators   = strings.NewReplacer(",", " ", ".", " ")
	septAbbreviation = regexp.MustCompile(`(?i)\bsept\b`)
)

// ParseDate parses the date notations found in project documents. Numeric
// slash dates are read day first, then month first. Month-only dates resolve
// to the first day of the month.
func ParseDate(s string) (time.Time, bool) {
	s = dateSeparators.Replace(strings.TrimSpace(s))
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = septAbbreviation.ReplaceAllString(s, "Sep")
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders t the way ISO dates are stored in extracted fields.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

var areaNumber = regexp.MustCompile(`[0-9][0-9,]*(?:\.[0-9]+)?`)

// ParseArea returns the first number in s, ignoring thousands separators.
// Values given in acres are converted to hectares.
func ParseArea(s string) (float64, bool) {
	m := areaNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if strings.Contains(strings.ToLower(s), "acre") {
		v *= 0.40468564224
	}
	return v, true
}

// CanonicalProjectID folds the notational variants of a registry identifier
// ("c06 4997", "C06-4997", "C06_4997") to one form.
func CanonicalProjectID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalOwner folds case, punctuation and legal suffixes out of an owner
// name so "Green Acres LLC" and "green acres, llc." compare equal.
func CanonicalOwner(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		switch f {
		case "llc", "inc", "ltd", "co", "corp", "the":
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
