package fhirmodels

// Common FHIR value set constants used across the application.

// Attachment content types the reader knows how to display.
const (
	ContentTypeHTML  = "text/html"
	ContentTypeText  = "text/plain"
	ContentTypePDF   = "application/pdf"
	ContentTypeXML   = "application/xml"
	ContentTypeFHIR  = "application/fhir+json"
	ContentTypeImage = "image/"
)

// CCDAStructuredBodyPrefix is the DocumentReference.content.format code
// prefix of C-CDA documents with a structured body (IHE format codes, e.g.
// "urn:hl7-org:sdwg:ccda-structuredBody:2.1").
const CCDAStructuredBodyPrefix = "urn:hl7-org:sdwg:ccda-structuredBody:"

// EncounterStatus values per FHIR R4.
const (
	EncounterStatusPlanned        = "planned"
	EncounterStatusArrived        = "arrived"
	EncounterStatusTriaged        = "triaged"
	EncounterStatusInProgress     = "in-progress"
	EncounterStatusOnLeave        = "onleave"
	EncounterStatusFinished       = "finished"
	EncounterStatusCancelled      = "cancelled"
	EncounterStatusEnteredInError = "entered-in-error"
)

// IsActiveEncounterStatus reports whether an encounter with this status is
// still under way. "active" is not an R4 code but some servers send it.
func IsActiveEncounterStatus(status string) bool {
	switch status {
	case "active", EncounterStatusTriaged, EncounterStatusInProgress, EncounterStatusOnLeave:
		return true
	}
	return false
}

// Resource types the reader lists.
const (
	ResourceTypeEncounter         = "Encounter"
	ResourceTypeDocumentReference = "DocumentReference"
)
