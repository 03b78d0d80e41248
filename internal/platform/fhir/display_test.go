package fhir

import (
	"testing"
	"time"
)

func TestParseFHIRDate_Precision(t *testing.T) {
	tests := []struct {
		in   string
		want DatePrecision
	}{
		{"2021", PrecisionYear},
		{"2021-03", PrecisionMonth},
		{"2021-03-04", PrecisionDay},
		{"2021-03-04T10:11:12Z", PrecisionTime},
		{"2021-03-04T10:11:12.345-07:00", PrecisionTime},
	}
	for _, tc := range tests {
		_, p, err := ParseFHIRDate(tc.in, time.UTC)
		if err != nil {
			t.Fatalf("ParseFHIRDate(%q): %v", tc.in, err)
		}
		if p != tc.want {
			t.Errorf("ParseFHIRDate(%q) precision = %d, want %d", tc.in, p, tc.want)
		}
	}
	if _, _, err := ParseFHIRDate("yesterday", time.UTC); err == nil {
		t.Error("expected error for bogus date")
	}
}

func TestRenderPeriod(t *testing.T) {
	tests := []struct {
		p    *Period
		want string
	}{
		{nil, ""},
		{&Period{Start: "2021-03-04", End: "2021-03-04"}, "Mar 4, 2021"},
		{&Period{Start: "2021-03-04", End: "2021-03-06"}, "Mar 4, 2021 to Mar 6, 2021"},
		{&Period{Start: "2021-03"}, "started Mar 2021"},
		{&Period{End: "2021"}, "ended 2021"},
	}
	for _, tc := range tests {
		if got := RenderPeriod(tc.p); got != tc.want {
			t.Errorf("RenderPeriod(%+v) = %q, want %q", tc.p, got, tc.want)
		}
	}
}

func TestRenderCodeables_Dedup(t *testing.T) {
	cs := []CodeableConcept{
		{Text: "Office visit"},
		{Coding: []Coding{{Code: "AMB"}, {Code: "AMB"}, {Display: "Ambulatory"}}},
		{Text: "Office visit"},
	}
	if got := RenderCodeables(cs); got != "Office visit; AMB, Ambulatory" {
		t.Errorf("unexpected %q", got)
	}
}

func TestPrimaryAndSecondaryText_Encounter(t *testing.T) {
	r := mustResource(t, `{"resourceType":"Encounter","id":"e1","status":"finished",
		"class":{"code":"AMB","display":"ambulatory"},
		"type":[{"text":"Office Visit"}],
		"period":{"start":"2022-05-01","end":"2022-05-01"},
		"location":[{"location":{"display":"Clinic A"}},{"location":{"display":"Clinic A"}},{"location":{"display":"Lab"}}]}`)

	if got := PrimaryText(r); got != "ambulatory" {
		t.Errorf("PrimaryText = %q", got)
	}
	got := SecondaryTexts(r)
	want := []string{"May 1, 2022", "Office Visit", "Clinic A; Lab"}
	if len(got) != len(want) {
		t.Fatalf("SecondaryTexts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SecondaryTexts[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	bare := mustResource(t, `{"resourceType":"Encounter","id":"e2"}`)
	if got := PrimaryText(bare); got != "Visit" {
		t.Errorf("expected Visit fallback, got %q", got)
	}
}

func TestPrimaryText_DocumentReference(t *testing.T) {
	tests := map[string]string{
		`{"resourceType":"DocumentReference","id":"d","description":"Discharge summary","type":{"text":"Summary"}}`: "Discharge summary",
		`{"resourceType":"DocumentReference","id":"d","type":{"coding":[{"code":"11506-3","display":"Progress note"}]}}`: "Progress note",
		`{"resourceType":"DocumentReference","id":"d","category":[{"text":"Clinical Note"}]}`:                            "Clinical Note",
		`{"resourceType":"DocumentReference","id":"d"}`:                                                                  "Document",
	}
	for js, want := range tests {
		if got := PrimaryText(mustResource(t, js)); got != want {
			t.Errorf("PrimaryText(%s) = %q, want %q", js, got, want)
		}
	}
}

func TestSortResources_Documents(t *testing.T) {
	rs := []Resource{
		mustResource(t, `{"resourceType":"DocumentReference","id":"nodate-b"}`),
		mustResource(t, `{"resourceType":"DocumentReference","id":"old","date":"2019-01-01T00:00:00Z"}`),
		mustResource(t, `{"resourceType":"DocumentReference","id":"nodate-a"}`),
		mustResource(t, `{"resourceType":"DocumentReference","id":"new","date":"2023-06-01"}`),
	}
	SortResources(rs)

	want := []string{"new", "old", "nodate-a", "nodate-b"}
	for i, id := range want {
		if rs[i].ID() != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, rs[i].ID())
		}
	}
}

func TestSortResources_EncountersActiveFirst(t *testing.T) {
	rs := []Resource{
		mustResource(t, `{"resourceType":"Encounter","id":"done","status":"finished","period":{"start":"2023-01-01"}}`),
		mustResource(t, `{"resourceType":"Encounter","id":"live","status":"in-progress","period":{"start":"2023-01-01"}}`),
		mustResource(t, `{"resourceType":"Encounter","id":"newer","status":"finished","period":{"end":"2024-02-01"}}`),
	}
	SortResources(rs)

	want := []string{"newer", "live", "done"}
	for i, id := range want {
		if rs[i].ID() != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, rs[i].ID())
		}
	}
}

func TestCompare(t *testing.T) {
	a := mustResource(t, `{"resourceType":"DocumentReference","id":"a","date":"2023-01-01"}`)
	b := mustResource(t, `{"resourceType":"DocumentReference","id":"b"}`)
	if Compare(a, b) >= 0 {
		t.Error("dated document should sort before undated one")
	}
	if Compare(b, a) <= 0 {
		t.Error("expected positive comparison for reversed arguments")
	}
	if Compare(a, a) != 0 {
		t.Error("expected zero comparing a resource with itself")
	}
}
