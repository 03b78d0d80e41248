package ccda

import "encoding/xml"

const (
	CDANamespace = "urn:hl7-org:v3"
	XSINamespace = "http://www.w3.org/2001/XMLSchema-instance"
)

// ClinicalDocument is the part of a CDA R2 document the viewer displays:
// the header and the narrative of each section. Coded entries are not
// decoded.
type ClinicalDocument struct {
	XMLName             xml.Name          `xml:"urn:hl7-org:v3 ClinicalDocument"`
	ID                  *InstanceID       `xml:"id"`
	Code                *Code             `xml:"code"`
	Title               string            `xml:"title"`
	EffectiveTime       *TimeValue        `xml:"effectiveTime"`
	ConfidentialityCode *Code             `xml:"confidentialityCode"`
	LanguageCode        *Code             `xml:"languageCode"`
	RecordTargets       []RecordTarget    `xml:"recordTarget"`
	Authors             []Author          `xml:"author"`
	Custodian           *Custodian        `xml:"custodian"`
	LegalAuthenticator  *Authenticator    `xml:"legalAuthenticator"`
	DocumentationOf     []DocumentationOf `xml:"documentationOf"`
	ComponentOf         *ComponentOf      `xml:"componentOf"`
	Component           *Component        `xml:"component"`
}

type InstanceID struct {
	Root       string `xml:"root,attr"`
	Extension  string `xml:"extension,attr"`
	NullFlavor string `xml:"nullFlavor,attr"`
}

type Code struct {
	Code           string `xml:"code,attr"`
	CodeSystem     string `xml:"codeSystem,attr"`
	CodeSystemName string `xml:"codeSystemName,attr"`
	DisplayName    string `xml:"displayName,attr"`
	NullFlavor     string `xml:"nullFlavor,attr"`
	OriginalText   string `xml:"originalText"`
}

// TimeValue is an HL7 TS (YYYYMMDDHHmmss±ZZZZ, any prefix of it).
type TimeValue struct {
	Value string `xml:"value,attr"`
}

// TimeRange is an IVL_TS.
type TimeRange struct {
	Value string     `xml:"value,attr"`
	Low   *TimeValue `xml:"low"`
	High  *TimeValue `xml:"high"`
}

type RecordTarget struct {
	PatientRole *PatientRole `xml:"patientRole"`
}

type PatientRole struct {
	IDs      []InstanceID `xml:"id"`
	Addrs    []Address    `xml:"addr"`
	Telecoms []Telecom    `xml:"telecom"`
	Patient  *Patient     `xml:"patient"`
}

type Patient struct {
	Names                    []Name     `xml:"name"`
	AdministrativeGenderCode *Code      `xml:"administrativeGenderCode"`
	BirthTime                *TimeValue `xml:"birthTime"`
	MaritalStatusCode        *Code      `xml:"maritalStatusCode"`
	LanguageCommunication    []struct {
		LanguageCode *Code `xml:"languageCode"`
	} `xml:"languageCommunication"`
}

// Name is a PN. Any of its parts may repeat.
type Name struct {
	Use    string   `xml:"use,attr"`
	Prefix []string `xml:"prefix"`
	Given  []string `xml:"given"`
	Family []string `xml:"family"`
	Suffix []string `xml:"suffix"`
	Text   string   `xml:",chardata"`
}

type Address struct {
	Use           string   `xml:"use,attr"`
	StreetAddress []string `xml:"streetAddressLine"`
	City          string   `xml:"city"`
	State         string   `xml:"state"`
	PostalCode    string   `xml:"postalCode"`
	Country       string   `xml:"country"`
}

type Telecom struct {
	Use   string `xml:"use,attr"`
	Value string `xml:"value,attr"`
}

type Author struct {
	Time           *TimeValue      `xml:"time"`
	AssignedAuthor *AssignedEntity `xml:"assignedAuthor"`
}

type Authenticator struct {
	Time           *TimeValue      `xml:"time"`
	AssignedEntity *AssignedEntity `xml:"assignedEntity"`
}

// AssignedEntity covers assignedAuthor and assignedEntity, which share a
// shape apart from the authoring device.
type AssignedEntity struct {
	IDs                     []InstanceID     `xml:"id"`
	Addrs                   []Address        `xml:"addr"`
	Telecoms                []Telecom        `xml:"telecom"`
	AssignedPerson          *Person          `xml:"assignedPerson"`
	AssignedAuthoringDevice *AuthoringDevice `xml:"assignedAuthoringDevice"`
	RepresentedOrganization *Organization    `xml:"representedOrganization"`
}

type Person struct {
	Names []Name `xml:"name"`
}

type AuthoringDevice struct {
	ManufacturerModelName string `xml:"manufacturerModelName"`
	SoftwareName          string `xml:"softwareName"`
}

type Organization struct {
	IDs   []InstanceID `xml:"id"`
	Names []string     `xml:"name"`
}

type Custodian struct {
	AssignedCustodian *struct {
		RepresentedCustodianOrganization *Organization `xml:"representedCustodianOrganization"`
	} `xml:"assignedCustodian"`
}

type DocumentationOf struct {
	ServiceEvent *ServiceEvent `xml:"serviceEvent"`
}

type ServiceEvent struct {
	Code          *Code      `xml:"code"`
	EffectiveTime *TimeRange `xml:"effectiveTime"`
}

type ComponentOf struct {
	EncompassingEncounter *EncompassingEncounter `xml:"encompassingEncounter"`
}

type EncompassingEncounter struct {
	IDs           []InstanceID `xml:"id"`
	Code          *Code        `xml:"code"`
	EffectiveTime *TimeRange   `xml:"effectiveTime"`
	Location      *struct {
		HealthCareFacility *struct {
			Location *struct {
				Name string `xml:"name"`
			} `xml:"location"`
			ServiceProviderOrganization *Organization `xml:"serviceProviderOrganization"`
		} `xml:"healthCareFacility"`
	} `xml:"location"`
}

type Component struct {
	StructuredBody *StructuredBody `xml:"structuredBody"`
	NonXMLBody     *NonXMLBody     `xml:"nonXMLBody"`
}

type StructuredBody struct {
	Components []SectionComponent `xml:"component"`
}

type SectionComponent struct {
	Section *Section `xml:"section"`
}

// NonXMLBody carries an unstructured document body, usually base64.
type NonXMLBody struct {
	Text struct {
		MediaType      string `xml:"mediaType,attr"`
		Representation string `xml:"representation,attr"`
		Reference      *struct {
			Value string `xml:"value,attr"`
		} `xml:"reference"`
		Content string `xml:",chardata"`
	} `xml:"text"`
}

// Section is a CDA section. Sections nest through component.
type Section struct {
	ID         *InstanceID        `xml:"id"`
	Code       *Code              `xml:"code"`
	Title      string             `xml:"title"`
	Text       *Narrative         `xml:"text"`
	Components []SectionComponent `xml:"component"`
}

// Narrative is the section's human-readable block, kept as raw XML and
// converted by NarrativeHTML.
type Narrative struct {
	Raw []byte `xml:",innerxml"`
}
