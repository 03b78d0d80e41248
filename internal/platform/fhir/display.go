package fhir

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ehr/notes/pkg/fhirmodels"
)

// DatePrecision records how much of a FHIR date/dateTime was present.
type DatePrecision int

const (
	PrecisionNone DatePrecision = iota
	PrecisionYear
	PrecisionMonth
	PrecisionDay
	PrecisionTime
)

var dateOnly = regexp.MustCompile(`^\d{4}(-\d{2}(-\d{2})?)?$`)

// ParseFHIRDate parses a FHIR date or dateTime. Partial dates are placed in
// loc so they display as the calendar date that was written.
func ParseFHIRDate(s string, loc *time.Location) (time.Time, DatePrecision, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if dateOnly.MatchString(s) {
		switch len(s) {
		case 4:
			t, err := time.ParseInLocation("2006", s, loc)
			return t, PrecisionYear, err
		case 7:
			t, err := time.ParseInLocation("2006-01", s, loc)
			return t, PrecisionMonth, err
		default:
			t, err := time.ParseInLocation("2006-01-02", s, loc)
			return t, PrecisionDay, err
		}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, PrecisionTime, nil
		}
	}
	return time.Time{}, PrecisionNone, fmt.Errorf("unrecognized FHIR date %q", s)
}

// FormatDate renders a FHIR date at its own precision, without time of day.
// Unparseable input is returned unchanged.
func FormatDate(s string) string {
	t, p, err := ParseFHIRDate(s, nil)
	if err != nil {
		return s
	}
	return formatAt(t, minPrecision(p, PrecisionDay))
}

// FormatDateTime renders a FHIR date or dateTime at its own precision.
func FormatDateTime(s string) string {
	t, p, err := ParseFHIRDate(s, nil)
	if err != nil {
		return s
	}
	return formatAt(t, p)
}

func minPrecision(a, b DatePrecision) DatePrecision {
	if a < b {
		return a
	}
	return b
}

func formatAt(t time.Time, p DatePrecision) string {
	switch p {
	case PrecisionYear:
		return t.Format("2006")
	case PrecisionMonth:
		return t.Format("Jan 2006")
	case PrecisionDay:
		return t.Format("Jan 2, 2006")
	default:
		return t.Local().Format("Jan 2, 2006 3:04 PM MST")
	}
}

// RenderPeriod renders a period as "A", "A to B", "started A" or "ended B".
func RenderPeriod(p *Period) string {
	if p == nil {
		return ""
	}
	switch {
	case p.Start != "" && p.End != "":
		start, end := FormatDate(p.Start), FormatDate(p.End)
		if start == end {
			return start
		}
		return start + " to " + end
	case p.Start != "":
		return "started " + FormatDate(p.Start)
	case p.End != "":
		return "ended " + FormatDate(p.End)
	}
	return ""
}

func RenderCoding(c *Coding) string {
	if c == nil {
		return ""
	}
	if c.Display != "" {
		return c.Display
	}
	return c.Code
}

func RenderCodings(cs []Coding) string {
	texts := make([]string, 0, len(cs))
	for i := range cs {
		texts = appendUnique(texts, RenderCoding(&cs[i]))
	}
	return strings.Join(texts, ", ")
}

func RenderCodeable(c *CodeableConcept) string {
	if c == nil {
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	return RenderCodings(c.Coding)
}

func RenderCodeables(cs []CodeableConcept) string {
	texts := make([]string, 0, len(cs))
	for i := range cs {
		texts = appendUnique(texts, RenderCodeable(&cs[i]))
	}
	return strings.Join(texts, "; ")
}

func appendUnique(texts []string, s string) []string {
	if s == "" {
		return texts
	}
	for _, t := range texts {
		if t == s {
			return texts
		}
	}
	return append(texts, s)
}

// PrimaryText is the one-line label for a resource in a list.
func PrimaryText(r Resource) string {
	switch r.ResourceType() {
	case fhirmodels.ResourceTypeEncounter:
		var enc Encounter
		_ = r.Decode(&enc)
		if s := RenderCodeable(enc.ServiceType); s != "" {
			return s
		}
		if s := RenderCoding(enc.Class); s != "" {
			return s
		}
		return "Visit"
	case fhirmodels.ResourceTypeDocumentReference:
		var doc DocumentReference
		_ = r.Decode(&doc)
		switch {
		case doc.Description != "":
			return doc.Description
		case doc.Type != nil && RenderCodeable(doc.Type) != "":
			return RenderCodeable(doc.Type)
		case len(doc.Category) > 0 && RenderCodeables(doc.Category) != "":
			return RenderCodeables(doc.Category)
		}
		return "Document"
	}
	return r.ResourceType()
}

// SecondaryTexts are the detail lines shown under PrimaryText.
func SecondaryTexts(r Resource) []string {
	var texts []string
	switch r.ResourceType() {
	case fhirmodels.ResourceTypeEncounter:
		var enc Encounter
		_ = r.Decode(&enc)
		if s := RenderPeriod(enc.Period); s != "" {
			texts = append(texts, s)
		}
		if s := RenderCodeables(enc.Type); s != "" {
			texts = append(texts, s)
		}
		var locs []string
		for _, l := range enc.Location {
			locs = appendUnique(locs, l.Location.Display)
		}
		if len(locs) > 0 {
			texts = append(texts, strings.Join(locs, "; "))
		}
	case fhirmodels.ResourceTypeDocumentReference:
		var doc DocumentReference
		_ = r.Decode(&doc)
		if len(doc.Author) > 0 && doc.Author[0].Display != "" {
			texts = append(texts, doc.Author[0].Display)
		}
		switch {
		case doc.Date != "":
			texts = append(texts, FormatDateTime(doc.Date))
		case doc.Context != nil && doc.Context.Period != nil && doc.Context.Period.End != "":
			texts = append(texts, FormatDateTime(doc.Context.Period.End))
		case doc.Context != nil && doc.Context.Period != nil && doc.Context.Period.Start != "":
			texts = append(texts, FormatDateTime(doc.Context.Period.Start))
		}
	}
	return texts
}

type sortKey struct {
	date    time.Time
	dated   bool
	active  bool
	id      string
	ordinal int
}

func keyFor(r Resource, ordinal int) sortKey {
	k := sortKey{id: r.ID(), ordinal: ordinal}
	var when string
	switch r.ResourceType() {
	case fhirmodels.ResourceTypeEncounter:
		var enc Encounter
		_ = r.Decode(&enc)
		k.active = fhirmodels.IsActiveEncounterStatus(enc.Status)
		if enc.Period != nil {
			when = enc.Period.Start
			if when == "" {
				when = enc.Period.End
			}
		}
	case fhirmodels.ResourceTypeDocumentReference:
		var doc DocumentReference
		_ = r.Decode(&doc)
		when = doc.Date
	}
	if when != "" {
		if t, _, err := ParseFHIRDate(when, time.UTC); err == nil {
			k.date, k.dated = t, true
		}
	}
	return k
}

// less orders newest first, undated last, active encounters before
// inactive ones on the same date, then by id.
func (a sortKey) less(b sortKey) bool {
	if a.dated != b.dated {
		return a.dated
	}
	if a.dated && !a.date.Equal(b.date) {
		return a.date.After(b.date)
	}
	if a.active != b.active {
		return a.active
	}
	if a.id != b.id {
		return a.id < b.id
	}
	return a.ordinal < b.ordinal
}

// SortResources orders resources for display in place.
func SortResources(rs []Resource) {
	keys := make([]sortKey, len(rs))
	for i, r := range rs {
		keys[i] = keyFor(r, i)
	}
	idx := make([]int, len(rs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return keys[idx[i]].less(keys[idx[j]]) })

	sorted := make([]Resource, len(rs))
	for i, j := range idx {
		sorted[i] = rs[j]
	}
	copy(rs, sorted)
}

// Compare orders two resources the way SortResources does: negative when a
// sorts first, positive when b does, zero when they are indistinguishable.
func Compare(a, b Resource) int {
	ka, kb := keyFor(a, 0), keyFor(b, 0)
	switch {
	case ka.less(kb):
		return -1
	case kb.less(ka):
		return 1
	}
	return 0
}
