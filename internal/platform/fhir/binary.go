// Package fhir is a small FHIR R4 REST client: paginated search, single
// reads, and Binary dereference, plus the handful of resource shapes the
// notes reader inspects.
//
// Binary resources are read in their JSON envelope form
// (https://hl7.org/fhir/R4/binary.html): the payload is base64-encoded in the
// "data" element and is passed on still encoded.
package fhir

import (
	"context"
	"fmt"
	"strings"
)

// Binary is the JSON wire representation of a FHIR R4 Binary resource.
type Binary struct {
	ResourceType    string     `json:"resourceType"`
	ID              string     `json:"id,omitempty"`
	ContentType     string     `json:"contentType"`
	Data            string     `json:"data,omitempty"`
	SecurityContext *Reference `json:"securityContext,omitempty"`
}

// IsBinaryReference reports whether an attachment URL points at a Binary
// resource that can be read through the FHIR API.
func IsBinaryReference(ref string) bool {
	return strings.Contains(ref, "Binary/")
}

// ReadBinary dereferences a Binary URL (absolute or relative to the base)
// and returns its envelope. The payload is left base64-encoded.
func (c *Client) ReadBinary(ctx context.Context, ref string) (*Binary, error) {
	if !IsBinaryReference(ref) {
		return nil, fmt.Errorf("not a Binary reference: %q", ref)
	}
	var b Binary
	if err := c.Get(ctx, ref, &b); err != nil {
		return nil, err
	}
	if b.ResourceType != "" && b.ResourceType != "Binary" {
		return nil, &FetchError{URL: ref, Err: fmt.Errorf("%w: expected Binary, got %q", ErrMalformedResponse, b.ResourceType)}
	}
	return &b, nil
}
