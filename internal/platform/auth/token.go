// Package auth provides the bearer tokens the reader sends to FHIR servers:
// a fixed access token, or SMART Backend Services client credentials.
package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Config selects how the reader authenticates to the FHIR server.
type Config struct {
	AccessToken    string
	ClientID       string
	TokenURL       string
	PrivateKeyFile string
	KeyID          string
	Scopes         []string
	FHIRBaseURL    string
	HTTPClient     *http.Client
}

// Mode names the configured authentication mode.
func (c Config) Mode() string {
	switch {
	case c.AccessToken != "":
		return "static"
	case c.ClientID != "" || c.PrivateKeyFile != "":
		return "backend-services"
	default:
		return "none"
	}
}

// LoadPrivateKey reads a PEM encoded RSA private key (PKCS #1 or PKCS #8).
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: reading private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing private key %s: %w", path, err)
	}
	return key, nil
}

// NewTokenSource builds the token source for cfg. It returns nil, nil when
// no authentication is configured. When TokenURL is empty the token
// endpoint is discovered from the FHIR server's SMART configuration.
func NewTokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	switch cfg.Mode() {
	case "static":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}), nil
	case "none":
		return nil, nil
	}

	if cfg.ClientID == "" || cfg.PrivateKeyFile == "" {
		return nil, fmt.Errorf("auth: backend services needs both a client ID and a private key file")
	}
	key, err := LoadPrivateKey(cfg.PrivateKeyFile)
	if err != nil {
		return nil, err
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		if cfg.FHIRBaseURL == "" {
			return nil, fmt.Errorf("auth: token URL is required when no FHIR base URL is available for discovery")
		}
		smart, err := DiscoverSMARTConfiguration(ctx, cfg.HTTPClient, cfg.FHIRBaseURL)
		if err != nil {
			return nil, fmt.Errorf("auth: discovering token endpoint: %w", err)
		}
		if !smart.SupportsAssertionAuth() {
			return nil, fmt.Errorf("auth: server does not support private_key_jwt client authentication")
		}
		tokenURL = smart.TokenEndpoint
	}

	return NewBackendServicesTokenSource(ctx, BackendServicesConfig{
		ClientID:   cfg.ClientID,
		TokenURL:   tokenURL,
		KeyID:      cfg.KeyID,
		PrivateKey: key,
		Scopes:     cfg.Scopes,
		HTTPClient: cfg.HTTPClient,
	})
}
