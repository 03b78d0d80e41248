package fhir

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Backend names an EHR vendor whose FHIR API has conventions that differ
// from plain FHIR R4.
type Backend string

const (
	BackendGeneric Backend = "generic"
	BackendEpic    Backend = "epic"
	BackendCerner  Backend = "cerner"
	BackendAthena  Backend = "athena"
	BackendSmart   Backend = "smart"
)

// ParseBackend maps a configured name to a Backend. "" and "auto" return
// "" so the caller detects the backend from the access token instead.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "", "auto":
		return "", nil
	case BackendGeneric, BackendEpic, BackendCerner, BackendAthena, BackendSmart:
		return b, nil
	default:
		return "", fmt.Errorf("unknown FHIR backend %q", s)
	}
}

// DetectBackend inspects an access token without verifying it. Epic issues
// JWT access tokens carrying "epic."-prefixed claims; anything else,
// including opaque tokens, is generic.
func DetectBackend(accessToken string) Backend {
	if accessToken == "" {
		return BackendGeneric
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return BackendGeneric
	}
	for k, v := range claims {
		if strings.HasPrefix(k, "epic.") {
			return BackendEpic
		}
		if s, ok := v.(string); ok && strings.HasPrefix(s, "epic.") {
			return BackendEpic
		}
	}
	return BackendGeneric
}

// EncounterFilter builds the encounter search parameter. Epic only matches
// typed references ("Encounter/<id>"); every other backend takes the bare id.
func EncounterFilter(b Backend, encounterID string) string {
	value := encounterID
	if b == BackendEpic && !strings.HasPrefix(encounterID, "Encounter/") {
		value = "Encounter/" + encounterID
	}
	return "encounter=" + url.QueryEscape(value)
}
