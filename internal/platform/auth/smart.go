package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SMARTConfiguration represents the SMART on FHIR well-known configuration
// as defined by the SMART App Launch Framework (HL7).
type SMARTConfiguration struct {
	Issuer                   string   `json:"issuer,omitempty"`
	AuthorizationEndpoint    string   `json:"authorization_endpoint"`
	TokenEndpoint            string   `json:"token_endpoint"`
	TokenEndpointAuthMethods []string `json:"token_endpoint_auth_methods_supported"`
	GrantTypes               []string `json:"grant_types_supported"`
	Scopes                   []string `json:"scopes_supported"`
	Capabilities             []string `json:"capabilities"`
}

// SupportsAssertionAuth reports whether the server accepts private_key_jwt
// client authentication. Servers that omit the list are given the benefit
// of the doubt.
func (c *SMARTConfiguration) SupportsAssertionAuth() bool {
	if len(c.TokenEndpointAuthMethods) == 0 {
		return true
	}
	for _, m := range c.TokenEndpointAuthMethods {
		if m == "private_key_jwt" {
			return true
		}
	}
	return false
}

// DiscoverSMARTConfiguration fetches
// <fhirBase>/.well-known/smart-configuration.
func DiscoverSMARTConfiguration(ctx context.Context, client *http.Client, fhirBase string) (*SMARTConfiguration, error) {
	if client == nil {
		client = http.DefaultClient
	}
	discoveryURL := strings.TrimRight(fhirBase, "/") + "/.well-known/smart-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building SMART discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching SMART configuration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SMART discovery endpoint returned status %d", resp.StatusCode)
	}

	var cfg SMARTConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding SMART configuration: %w", err)
	}
	if cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("SMART configuration missing token_endpoint")
	}
	return &cfg, nil
}

// SMARTScope represents a parsed SMART on FHIR scope.
// Format: <context>/<resourceType>.<operation>
// Examples: system/DocumentReference.read, patient/*.rs
type SMARTScope struct {
	Context      string // "patient", "user", or "system"
	ResourceType string // e.g. "Encounter", "*"
	Operation    string // v1 "read", "write", "*" or a v2 subset of "cruds"
}

// ParseSMARTScope parses a resource-level SMART scope. It returns an error
// for scopes that are not resource scopes (e.g. "openid", "launch").
func ParseSMARTScope(scope string) (*SMARTScope, error) {
	slashIdx := strings.Index(scope, "/")
	if slashIdx < 0 {
		return nil, fmt.Errorf("not a resource scope: %s", scope)
	}

	ctx := scope[:slashIdx]
	remainder := scope[slashIdx+1:]

	if ctx != "patient" && ctx != "user" && ctx != "system" {
		return nil, fmt.Errorf("invalid scope context %q: must be patient, user, or system", ctx)
	}

	dotIdx := strings.LastIndex(remainder, ".")
	if dotIdx < 0 {
		return nil, fmt.Errorf("invalid scope format %q: missing operation", scope)
	}

	resourceType := remainder[:dotIdx]
	operation := remainder[dotIdx+1:]
	if i := strings.IndexByte(operation, '?'); i >= 0 {
		operation = operation[:i]
	}

	if resourceType == "" {
		return nil, fmt.Errorf("invalid scope %q: empty resource type", scope)
	}
	if !validOperation(operation) {
		return nil, fmt.Errorf("invalid operation %q: must be read, write, * or a subset of cruds", operation)
	}

	return &SMARTScope{
		Context:      ctx,
		ResourceType: resourceType,
		Operation:    operation,
	}, nil
}

func validOperation(op string) bool {
	switch op {
	case "read", "write", "*":
		return true
	case "":
		return false
	}
	last := -1
	for _, r := range op {
		i := strings.IndexRune("cruds", r)
		if i <= last {
			return false
		}
		last = i
	}
	return true
}

// ValidateScopes rejects malformed resource scopes. Scopes without a slash
// such as "openid" or "launch" pass through.
func ValidateScopes(scopes []string) error {
	for _, s := range scopes {
		if !strings.Contains(s, "/") {
			continue
		}
		if _, err := ParseSMARTScope(s); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	return nil
}
