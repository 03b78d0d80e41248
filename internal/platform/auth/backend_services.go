package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientAssertionType is the client_assertion_type for JWT client
// authentication (RFC 7523).
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// assertionLifetime is the longest exp SMART Backend Services allows.
const assertionLifetime = 5 * time.Minute

// BackendServicesConfig describes a registered SMART Backend Services
// client (SMART App Launch v2.0, Backend Services).
type BackendServicesConfig struct {
	ClientID   string
	TokenURL   string
	KeyID      string
	PrivateKey *rsa.PrivateKey
	Scopes     []string
	HTTPClient *http.Client
}

// SignClientAssertion builds the RS384 assertion the token endpoint checks:
// iss == sub == client_id, aud == token URL, a unique jti and an exp no more
// than five minutes out.
func SignClientAssertion(clientID, tokenURL, kid string, key *rsa.PrivateKey, now time.Time) (string, error) {
	if key == nil {
		return "", fmt.Errorf("auth: private key is required")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{tokenURL},
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS384, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("auth: signing client assertion: %w", err)
	}
	return signed, nil
}

// backendServicesSource exchanges a fresh assertion for an access token on
// every call. It is wrapped in a ReuseTokenSource so calls only happen when
// the previous token has expired.
type backendServicesSource struct {
	ctx context.Context
	cfg BackendServicesConfig
	now func() time.Time
}

func (s *backendServicesSource) Token() (*oauth2.Token, error) {
	assertion, err := SignClientAssertion(s.cfg.ClientID, s.cfg.TokenURL, s.cfg.KeyID, s.cfg.PrivateKey, s.now())
	if err != nil {
		return nil, err
	}
	cc := clientcredentials.Config{
		ClientID: s.cfg.ClientID,
		TokenURL: s.cfg.TokenURL,
		Scopes:   s.cfg.Scopes,
		EndpointParams: url.Values{
			"client_assertion_type": {ClientAssertionType},
			"client_assertion":      {assertion},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: backend services token request: %w", err)
	}
	return tok, nil
}

// NewBackendServicesTokenSource returns a token source that authenticates
// with a signed client assertion. ctx is used for every token request and
// should outlive the source.
func NewBackendServicesTokenSource(ctx context.Context, cfg BackendServicesConfig) (oauth2.TokenSource, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("auth: client ID is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("auth: token URL is required")
	}
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("auth: private key is required")
	}
	if err := ValidateScopes(cfg.Scopes); err != nil {
		return nil, err
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	src := &backendServicesSource{ctx: ctx, cfg: cfg, now: time.Now}
	return oauth2.ReuseTokenSource(nil, src), nil
}
