package ccda

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Document is the display view of a CDA document: header fields rendered
// as text and each section narrative converted to HTML.
type Document struct {
	Title           string        `json:"title"`
	Code            string        `json:"code,omitempty"`
	EffectiveTime   string        `json:"effective_time,omitempty"`
	Created         time.Time     `json:"created,omitempty"`
	Confidentiality string        `json:"confidentiality,omitempty"`
	Language        string        `json:"language,omitempty"`
	Patient         DocPatient    `json:"patient"`
	Authors         []Participant `json:"authors,omitempty"`
	Authenticator   *Participant  `json:"legal_authenticator,omitempty"`
	Custodian       string        `json:"custodian,omitempty"`
	ServiceEvents   []Event       `json:"service_events,omitempty"`
	Encounter       *Event        `json:"encounter,omitempty"`
	Sections        []DocSection  `json:"sections,omitempty"`
	Unstructured    *Unstructured `json:"unstructured,omitempty"`
}

// DocPatient contains the patient demographics from the CDA header.
type DocPatient struct {
	Name        string       `json:"name"`
	DOB         string       `json:"dob,omitempty"`
	Gender      string       `json:"gender,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
	Addresses   []string     `json:"addresses,omitempty"`
	Telecoms    []string     `json:"telecoms,omitempty"`
}

// Identifier is a parsed II.
type Identifier struct {
	Root      string `json:"root"`
	Extension string `json:"extension,omitempty"`
}

// Participant is an author or authenticator.
type Participant struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Time         string `json:"time,omitempty"`
}

// Event is a service event or the encompassing encounter.
type Event struct {
	Description string `json:"description,omitempty"`
	Period      string `json:"period,omitempty"`
	Location    string `json:"location,omitempty"`
}

// DocSection holds one section with its narrative already converted.
type DocSection struct {
	Anchor      string        `json:"anchor"`
	Title       string        `json:"title"`
	Code        string        `json:"code,omitempty"`
	Body        template.HTML `json:"body,omitempty"`
	Subsections []DocSection  `json:"subsections,omitempty"`
}

// Unstructured describes a nonXMLBody. Only a reference or the media type
// is shown; the payload itself is not inlined.
type Unstructured struct {
	MediaType string `json:"media_type,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Parser extracts the display view from CDA documents. It is safe for
// concurrent use because it holds no mutable state.
type Parser struct{}

// NewParser creates a new CDA parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads a CDA XML document and builds its display view.
func (p *Parser) Parse(xmlData []byte) (*Document, error) {
	if len(bytes.TrimSpace(xmlData)) == 0 {
		return nil, fmt.Errorf("ccda: XML data is empty")
	}

	var doc ClinicalDocument
	dec := xml.NewDecoder(bytes.NewReader(xmlData))
	dec.Entity = xml.HTMLEntity
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("ccda: failed to parse XML: %w", err)
	}

	result := &Document{
		Title:           strings.TrimSpace(doc.Title),
		Code:            codeText(doc.Code),
		Confidentiality: codeText(doc.ConfidentialityCode),
		Language:        codeText(doc.LanguageCode),
	}
	if result.Title == "" {
		result.Title = result.Code
	}
	if result.Title == "" {
		result.Title = "Clinical Document"
	}

	if doc.EffectiveTime != nil && doc.EffectiveTime.Value != "" {
		result.EffectiveTime = formatHL7Time(doc.EffectiveTime.Value)
		if t, err := parseHL7Time(doc.EffectiveTime.Value); err == nil {
			result.Created = t
		}
	}

	result.Patient = p.parsePatient(&doc)

	for _, a := range doc.Authors {
		if part := participant(a.AssignedAuthor, a.Time); part.Name != "" || part.Organization != "" {
			result.Authors = append(result.Authors, part)
		}
	}
	if la := doc.LegalAuthenticator; la != nil {
		if part := participant(la.AssignedEntity, la.Time); part.Name != "" {
			result.Authenticator = &part
		}
	}
	if c := doc.Custodian; c != nil && c.AssignedCustodian != nil {
		result.Custodian = orgName(c.AssignedCustodian.RepresentedCustodianOrganization)
	}

	for _, d := range doc.DocumentationOf {
		if d.ServiceEvent == nil {
			continue
		}
		ev := Event{
			Description: codeText(d.ServiceEvent.Code),
			Period:      formatRange(d.ServiceEvent.EffectiveTime),
		}
		if ev != (Event{}) {
			result.ServiceEvents = append(result.ServiceEvents, ev)
		}
	}
	if doc.ComponentOf != nil && doc.ComponentOf.EncompassingEncounter != nil {
		result.Encounter = encounterEvent(doc.ComponentOf.EncompassingEncounter)
	}

	if doc.Component != nil {
		if body := doc.Component.StructuredBody; body != nil {
			sections, err := p.parseSections(body.Components, "section")
			if err != nil {
				return nil, err
			}
			result.Sections = sections
		}
		if nx := doc.Component.NonXMLBody; nx != nil {
			u := &Unstructured{MediaType: nx.Text.MediaType}
			if nx.Text.Reference != nil {
				u.Reference = nx.Text.Reference.Value
			}
			result.Unstructured = u
		}
	}

	return result, nil
}

// parsePatient extracts patient demographics from the first recordTarget.
func (p *Parser) parsePatient(doc *ClinicalDocument) DocPatient {
	patient := DocPatient{}
	if len(doc.RecordTargets) == 0 || doc.RecordTargets[0].PatientRole == nil {
		return patient
	}
	role := doc.RecordTargets[0].PatientRole

	for _, id := range role.IDs {
		if id.NullFlavor != "" || id.Root == "" {
			continue
		}
		patient.Identifiers = append(patient.Identifiers, Identifier{Root: id.Root, Extension: id.Extension})
	}
	for _, a := range role.Addrs {
		if s := formatAddress(a); s != "" {
			patient.Addresses = append(patient.Addresses, s)
		}
	}
	for _, t := range role.Telecoms {
		if t.Value != "" {
			patient.Telecoms = append(patient.Telecoms, t.Value)
		}
	}

	pat := role.Patient
	if pat == nil {
		return patient
	}
	patient.Name = preferredName(pat.Names)
	patient.Gender = codeText(pat.AdministrativeGenderCode)
	if pat.BirthTime != nil && pat.BirthTime.Value != "" {
		patient.DOB = formatParsedDate(pat.BirthTime.Value)
	}
	return patient
}

// parseSections walks nested section components. Anchors are derived from
// the position so that the table of contents can link to them.
func (p *Parser) parseSections(components []SectionComponent, prefix string) ([]DocSection, error) {
	var out []DocSection
	for i, comp := range components {
		s := comp.Section
		if s == nil {
			continue
		}
		ds := DocSection{
			Anchor: fmt.Sprintf("%s-%d", prefix, i+1),
			Title:  strings.TrimSpace(s.Title),
			Code:   codeText(s.Code),
		}
		if ds.Title == "" {
			ds.Title = ds.Code
		}
		if s.Text != nil {
			body, err := NarrativeHTML(s.Text.Raw)
			if err != nil {
				return nil, fmt.Errorf("ccda: section %q: %w", ds.Title, err)
			}
			ds.Body = body
		}
		subs, err := p.parseSections(s.Components, ds.Anchor)
		if err != nil {
			return nil, err
		}
		ds.Subsections = subs
		out = append(out, ds)
	}
	return out, nil
}

func participant(e *AssignedEntity, at *TimeValue) Participant {
	var part Participant
	if e == nil {
		return part
	}
	switch {
	case e.AssignedPerson != nil:
		part.Name = preferredName(e.AssignedPerson.Names)
	case e.AssignedAuthoringDevice != nil:
		d := e.AssignedAuthoringDevice
		part.Name = strings.TrimSpace(strings.Join(nonEmpty(d.ManufacturerModelName, d.SoftwareName), " "))
	}
	part.Organization = orgName(e.RepresentedOrganization)
	if at != nil && at.Value != "" {
		part.Time = formatHL7Time(at.Value)
	}
	return part
}

func encounterEvent(enc *EncompassingEncounter) *Event {
	ev := &Event{
		Description: codeText(enc.Code),
		Period:      formatRange(enc.EffectiveTime),
	}
	if loc := enc.Location; loc != nil && loc.HealthCareFacility != nil {
		f := loc.HealthCareFacility
		if f.Location != nil {
			ev.Location = strings.TrimSpace(f.Location.Name)
		}
		if ev.Location == "" {
			ev.Location = orgName(f.ServiceProviderOrganization)
		}
	}
	if *ev == (Event{}) {
		return nil
	}
	return ev
}

// preferredName picks the legal ("L") name when present, else the first.
func preferredName(names []Name) string {
	if len(names) == 0 {
		return ""
	}
	pick := names[0]
	for _, n := range names {
		if strings.Contains(" "+n.Use+" ", " L ") {
			pick = n
			break
		}
	}
	parts := nonEmpty(pick.Prefix...)
	parts = append(parts, nonEmpty(pick.Given...)...)
	parts = append(parts, nonEmpty(pick.Family...)...)
	parts = append(parts, nonEmpty(pick.Suffix...)...)
	if len(parts) == 0 {
		return strings.Join(strings.Fields(pick.Text), " ")
	}
	return strings.Join(parts, " ")
}

func orgName(o *Organization) string {
	if o == nil {
		return ""
	}
	return strings.Join(nonEmpty(o.Names...), ", ")
}

func codeText(c *Code) string {
	if c == nil {
		return ""
	}
	if s := strings.TrimSpace(c.OriginalText); s != "" {
		return s
	}
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Code
}

func formatAddress(a Address) string {
	parts := nonEmpty(a.StreetAddress...)
	cityLine := strings.TrimSpace(strings.Join(nonEmpty(a.City, a.State), ", ") + " " + strings.TrimSpace(a.PostalCode))
	if cityLine != "" {
		parts = append(parts, cityLine)
	}
	if c := strings.TrimSpace(a.Country); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, ", ")
}

func formatRange(r *TimeRange) string {
	if r == nil {
		return ""
	}
	if r.Value != "" {
		return formatHL7Time(r.Value)
	}
	var low, high string
	if r.Low != nil {
		low = formatHL7Time(r.Low.Value)
	}
	if r.High != nil {
		high = formatHL7Time(r.High.Value)
	}
	switch {
	case low != "" && high != "":
		return low + " to " + high
	case low != "":
		return "from " + low
	case high != "":
		return "until " + high
	}
	return ""
}

func nonEmpty(in ...string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseHL7Time parses an HL7 time string into a time.Time. A trailing
// timezone offset is honoured when present.
func parseHL7Time(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		digits := stripFraction(s[:i])
		if len(digits) >= 12 {
			layout := "200601021504"
			if len(digits) >= 14 {
				layout, digits = "20060102150405", digits[:14]
			}
			return time.Parse(layout+"-0700", digits+s[i:])
		}
		s = digits
	}
	s = stripFraction(s)
	switch len(s) {
	case 14: // YYYYMMDDHHmmss
		return time.Parse("20060102150405", s)
	case 12: // YYYYMMDDHHmm
		return time.Parse("200601021504", s)
	case 8: // YYYYMMDD
		return time.Parse("20060102", s)
	case 6: // YYYYMM
		return time.Parse("200601", s)
	case 4: // YYYY
		return time.Parse("2006", s)
	default:
		if len(s) > 14 {
			return time.Parse("20060102150405", s[:14])
		}
		return time.Time{}, fmt.Errorf("ccda: unrecognized time format: %s", s)
	}
}

func stripFraction(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// formatHL7Time renders an HL7 time at the precision it was recorded with.
func formatHL7Time(s string) string {
	t, err := parseHL7Time(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	digits := stripFraction(strings.TrimSpace(s))
	if i := strings.IndexAny(digits, "+-"); i >= 0 {
		digits = digits[:i]
	}
	switch {
	case len(digits) <= 4:
		return t.Format("2006")
	case len(digits) <= 6:
		return t.Format("Jan 2006")
	case len(digits) <= 8:
		return t.Format("Jan 2, 2006")
	default:
		return t.Format("Jan 2, 2006 15:04")
	}
}

// formatParsedDate converts an HL7 date (YYYYMMDD) to a more readable format.
func formatParsedDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 8 {
		return s[:4] + "-" + s[4:6] + "-" + s[6:8]
	}
	return s
}
