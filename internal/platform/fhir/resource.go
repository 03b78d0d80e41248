package fhir

import (
	"encoding/json"
	"fmt"
)

// Resource is an opaque FHIR resource as returned by the server. Only the
// fields the pipeline needs are read through typed helpers; everything else
// is carried through untouched.
type Resource map[string]interface{}

// ResourceType returns the declared resourceType, or "" when absent.
func (r Resource) ResourceType() string {
	s, _ := r["resourceType"].(string)
	return s
}

// ID returns the logical id, or "" when absent.
func (r Resource) ID() string {
	s, _ := r["id"].(string)
	return s
}

// Decode converts the resource into a typed struct via a JSON round trip.
func (r Resource) Decode(out interface{}) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.ResourceType(), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", r.ResourceType(), err)
	}
	return nil
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Period keeps FHIR dateTime strings as-is; precision varies per server.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Attachment is document content, either inline (base64 Data) or remote
// (URL, usually a Binary reference).
type Attachment struct {
	ContentType string `json:"contentType,omitempty"`
	Language    string `json:"language,omitempty"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Hash        string `json:"hash,omitempty"`
	Title       string `json:"title,omitempty"`
	Creation    string `json:"creation,omitempty"`
}

// DocumentReferenceContent is one entry of DocumentReference.content.
type DocumentReferenceContent struct {
	Attachment Attachment `json:"attachment"`
	Format     *Coding    `json:"format,omitempty"`
}

// FormatCode returns the format coding's code, or "".
func (c DocumentReferenceContent) FormatCode() string {
	if c.Format == nil {
		return ""
	}
	return c.Format.Code
}

// DocumentReferenceContext carries the encounter linkage of a document.
type DocumentReferenceContext struct {
	Encounter []Reference `json:"encounter,omitempty"`
	Period    *Period     `json:"period,omitempty"`
}

// DocumentReference is the subset of the R4 DocumentReference the reader uses.
type DocumentReference struct {
	ResourceType string                     `json:"resourceType"`
	ID           string                     `json:"id"`
	Status       string                     `json:"status,omitempty"`
	Type         *CodeableConcept           `json:"type,omitempty"`
	Category     []CodeableConcept          `json:"category,omitempty"`
	Date         string                     `json:"date,omitempty"`
	Author       []Reference                `json:"author,omitempty"`
	Description  string                     `json:"description,omitempty"`
	Content      []DocumentReferenceContent `json:"content"`
	Context      *DocumentReferenceContext  `json:"context,omitempty"`
}

// Encounter is the subset of the R4 Encounter the reader uses.
type Encounter struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id"`
	Status       string              `json:"status,omitempty"`
	Class        *Coding             `json:"class,omitempty"`
	Type         []CodeableConcept   `json:"type,omitempty"`
	ServiceType  *CodeableConcept    `json:"serviceType,omitempty"`
	Period       *Period             `json:"period,omitempty"`
	Location     []EncounterLocation `json:"location,omitempty"`
}

type EncounterLocation struct {
	Location Reference `json:"location"`
}

// AsDocumentReference decodes r, rejecting other resource types.
func AsDocumentReference(r Resource) (*DocumentReference, error) {
	if rt := r.ResourceType(); rt != "DocumentReference" {
		return nil, fmt.Errorf("expected DocumentReference, got %q", rt)
	}
	var doc DocumentReference
	if err := r.Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
