package ccda

import (
	"strings"
	"testing"
	"time"
)

func TestParser_Parse_Header(t *testing.T) {
	parsed, err := NewParser().Parse([]byte(sampleCCD))
	if err != nil {
		t.Fatalf("failed to parse CDA: %v", err)
	}

	if parsed.Title != "Continuity of Care Document" {
		t.Errorf("expected title 'Continuity of Care Document', got %q", parsed.Title)
	}
	if parsed.Code != "Summarization of Episode Note" {
		t.Errorf("unexpected code %q", parsed.Code)
	}
	if parsed.EffectiveTime != "Mar 15, 2024 10:30" {
		t.Errorf("unexpected effective time %q", parsed.EffectiveTime)
	}
	if want := time.Date(2024, 3, 15, 15, 30, 0, 0, time.UTC); !parsed.Created.Equal(want) {
		t.Errorf("expected Created %v, got %v", want, parsed.Created)
	}
	if parsed.Confidentiality != "Normal" || parsed.Language != "en-US" {
		t.Errorf("unexpected confidentiality/language %q %q", parsed.Confidentiality, parsed.Language)
	}
	if parsed.Custodian != "Good Health Clinic" {
		t.Errorf("unexpected custodian %q", parsed.Custodian)
	}
}

func TestParser_Parse_Patient(t *testing.T) {
	parsed, err := NewParser().Parse([]byte(sampleCCD))
	if err != nil {
		t.Fatalf("failed to parse CDA: %v", err)
	}
	p := parsed.Patient

	if p.Name != "John Q Doe Jr" {
		t.Errorf("expected legal name 'John Q Doe Jr', got %q", p.Name)
	}
	if p.Gender != "Male" {
		t.Errorf("expected gender 'Male', got %q", p.Gender)
	}
	if p.DOB != "1980-01-15" {
		t.Errorf("expected DOB '1980-01-15', got %q", p.DOB)
	}
	if len(p.Identifiers) != 1 || p.Identifiers[0].Extension != "patient-123" {
		t.Errorf("expected one identifier patient-123, got %+v", p.Identifiers)
	}
	if len(p.Addresses) != 1 || p.Addresses[0] != "1 Main St, Springfield, IL 62701, US" {
		t.Errorf("unexpected addresses %q", p.Addresses)
	}
	if len(p.Telecoms) != 1 || p.Telecoms[0] != "tel:+1-555-0100" {
		t.Errorf("unexpected telecoms %q", p.Telecoms)
	}
}

func TestParser_Parse_Participants(t *testing.T) {
	parsed, err := NewParser().Parse([]byte(sampleCCD))
	if err != nil {
		t.Fatalf("failed to parse CDA: %v", err)
	}

	if len(parsed.Authors) != 2 {
		t.Fatalf("expected 2 authors, got %d", len(parsed.Authors))
	}
	if a := parsed.Authors[0]; a.Name != "Dr. Ann Smith" || a.Organization != "Good Health Clinic" || a.Time != "Mar 15, 2024" {
		t.Errorf("unexpected person author %+v", a)
	}
	if a := parsed.Authors[1]; a.Name != "Acme EHR 9" {
		t.Errorf("unexpected device author %+v", a)
	}
	if parsed.Authenticator == nil || parsed.Authenticator.Name != "Ann Smith" {
		t.Errorf("unexpected authenticator %+v", parsed.Authenticator)
	}
	if len(parsed.ServiceEvents) != 1 || parsed.ServiceEvents[0].Period != "Jan 1, 2024 to Mar 15, 2024" {
		t.Errorf("unexpected service events %+v", parsed.ServiceEvents)
	}
	if e := parsed.Encounter; e == nil || e.Description != "Ambulatory" || e.Period != "Mar 15, 2024" || e.Location != "Room 4" {
		t.Errorf("unexpected encounter %+v", parsed.Encounter)
	}
}

func TestParser_Parse_Sections(t *testing.T) {
	parsed, err := NewParser().Parse([]byte(sampleCCD))
	if err != nil {
		t.Fatalf("failed to parse CDA: %v", err)
	}

	if len(parsed.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(parsed.Sections))
	}
	allergies := parsed.Sections[0]
	if allergies.Anchor != "section-1" || allergies.Title != "Allergies" {
		t.Errorf("unexpected section %+v", allergies)
	}
	wantTable := `<table border="1"><thead><tr><th>Substance</th></tr></thead><tbody><tr><td id="a1">Penicillin &amp; co</td></tr></tbody></table>`
	if string(allergies.Body) != wantTable {
		t.Errorf("unexpected body\n got: %s\nwant: %s", allergies.Body, wantTable)
	}

	plan := parsed.Sections[1]
	if !strings.Contains(string(plan.Body), `<span class="cda-bold">in 2 weeks</span>`) {
		t.Errorf("expected styled content, got %s", plan.Body)
	}
	if len(plan.Subsections) != 1 {
		t.Fatalf("expected 1 subsection, got %d", len(plan.Subsections))
	}
	diet := plan.Subsections[0]
	if diet.Anchor != "section-2-1" || string(diet.Body) != "<ol><li>Low salt</li></ol>" {
		t.Errorf("unexpected subsection %+v", diet)
	}
}

func TestParser_Parse_NonXMLBody(t *testing.T) {
	doc := `<ClinicalDocument xmlns="urn:hl7-org:v3"><title>Scan</title>` +
		`<component><nonXMLBody><text mediaType="application/pdf" representation="B64"><reference value="scan.pdf"/></text></nonXMLBody></component></ClinicalDocument>`
	parsed, err := NewParser().Parse([]byte(doc))
	if err != nil {
		t.Fatalf("failed to parse CDA: %v", err)
	}
	if parsed.Unstructured == nil || parsed.Unstructured.MediaType != "application/pdf" || parsed.Unstructured.Reference != "scan.pdf" {
		t.Errorf("unexpected unstructured body %+v", parsed.Unstructured)
	}
	if len(parsed.Sections) != 0 {
		t.Errorf("expected no sections, got %d", len(parsed.Sections))
	}
}

func TestParser_Parse_TitleFallback(t *testing.T) {
	doc := `<ClinicalDocument xmlns="urn:hl7-org:v3"><code code="11506-3" displayName="Progress note"/></ClinicalDocument>`
	parsed, err := NewParser().Parse([]byte(doc))
	if err != nil {
		t.Fatalf("failed to parse CDA: %v", err)
	}
	if parsed.Title != "Progress note" {
		t.Errorf("expected title from code, got %q", parsed.Title)
	}
}

func TestParser_Parse_EmptyData(t *testing.T) {
	if _, err := NewParser().Parse(nil); err == nil {
		t.Error("expected error for empty data")
	}
	if _, err := NewParser().Parse([]byte("   \n")); err == nil {
		t.Error("expected error for whitespace-only data")
	}
}

func TestParser_Parse_InvalidXML(t *testing.T) {
	if _, err := NewParser().Parse([]byte("this is not xml")); err == nil {
		t.Error("expected error for invalid XML")
	}
	if _, err := NewParser().Parse([]byte(`<html xmlns="http://www.w3.org/1999/xhtml"></html>`)); err == nil {
		t.Error("expected error for a non-CDA root element")
	}
}

func TestParseHL7Time(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"20240315103000", time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"202403151030", time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"20240315", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"202403", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"20240315103000.123", time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"20240315103000+0100", time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)},
		{"20240315-0500", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		got, err := parseHL7Time(tc.in)
		if err != nil {
			t.Errorf("parseHL7Time(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("parseHL7Time(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := parseHL7Time("2024031"); err == nil {
		t.Error("expected error for a 7-digit time")
	}
}

func TestFormatHL7Time(t *testing.T) {
	tests := map[string]string{
		"2024":           "2024",
		"202403":         "Mar 2024",
		"20240315":       "Mar 15, 2024",
		"20240315103000": "Mar 15, 2024 10:30",
		"garbage":        "garbage",
	}
	for in, want := range tests {
		if got := formatHL7Time(in); got != want {
			t.Errorf("formatHL7Time(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatParsedDate(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"19800115", "1980-01-15"},
		{"20240101120000", "2024-01-01"},
		{"1980", "1980"},
		{"", ""},
	}

	for _, tt := range tests {
		got := formatParsedDate(tt.input)
		if got != tt.expected {
			t.Errorf("formatParsedDate(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
