package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// tokenServer verifies client assertions the way a SMART authorization
// server does and issues opaque tokens.
type tokenServer struct {
	t        *testing.T
	key      *rsa.PublicKey
	clientID string

	mu       sync.Mutex
	requests int
	jtis     map[string]bool
	scopes   []string
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" ||
		r.PostForm.Get("client_assertion_type") != ClientAssertionType {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}

	tokenURL := "http://" + r.Host + r.URL.Path
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(r.PostForm.Get("client_assertion"), claims, func(tok *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{"RS384"}), jwt.WithAudience(tokenURL), jwt.WithIssuer(s.clientID), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
		return
	}
	if sub, _ := claims.GetSubject(); sub != s.clientID {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}
	exp, _ := claims.GetExpirationTime()
	if exp.After(time.Now().Add(5*time.Minute + 30*time.Second)) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}
	jti, _ := claims["jti"].(string)
	if jti == "" || s.jtis[jti] {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}
	if s.jtis == nil {
		s.jtis = map[string]bool{}
	}
	s.jtis[jti] = true
	s.scopes = strings.Fields(r.PostForm.Get("scope"))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": "tok-" + jti[:8],
		"token_type":   "bearer",
		"expires_in":   300,
		"scope":        r.PostForm.Get("scope"),
	})
}

func TestSignClientAssertion(t *testing.T) {
	key := generateTestKey(t)
	now := time.Now()

	signed, err := SignClientAssertion("client-1", "https://auth.example.com/token", "kid-1", key, now)
	if err != nil {
		t.Fatalf("SignClientAssertion: %v", err)
	}

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS384"}))
	if err != nil {
		t.Fatalf("parse assertion: %v", err)
	}
	if tok.Header["kid"] != "kid-1" {
		t.Errorf("expected kid header, got %v", tok.Header["kid"])
	}
	iss, _ := claims.GetIssuer()
	sub, _ := claims.GetSubject()
	aud, _ := claims.GetAudience()
	if iss != "client-1" || sub != "client-1" {
		t.Errorf("expected iss == sub == client-1, got %q %q", iss, sub)
	}
	if len(aud) != 1 || aud[0] != "https://auth.example.com/token" {
		t.Errorf("unexpected aud %v", aud)
	}
	exp, _ := claims.GetExpirationTime()
	if d := exp.Sub(now); d > 5*time.Minute || d < 4*time.Minute {
		t.Errorf("expected exp about five minutes out, got %v", d)
	}
	if jti, _ := claims["jti"].(string); jti == "" {
		t.Error("expected jti")
	}
}

func TestSignClientAssertion_UniqueJTI(t *testing.T) {
	key := generateTestKey(t)
	a, _ := SignClientAssertion("c", "u", "", key, time.Now())
	b, _ := SignClientAssertion("c", "u", "", key, time.Now())
	if a == b {
		t.Error("expected distinct assertions")
	}
}

func TestSignClientAssertion_NoKey(t *testing.T) {
	if _, err := SignClientAssertion("c", "u", "", nil, time.Now()); err == nil {
		t.Error("expected error without key")
	}
}

func TestBackendServicesTokenSource(t *testing.T) {
	key := generateTestKey(t)
	ts := &tokenServer{t: t, key: &key.PublicKey, clientID: "client-1"}
	srv := httptest.NewServer(ts)
	defer srv.Close()

	src, err := NewBackendServicesTokenSource(context.Background(), BackendServicesConfig{
		ClientID:   "client-1",
		TokenURL:   srv.URL + "/token",
		PrivateKey: key,
		Scopes:     []string{"system/DocumentReference.read", "system/Encounter.rs"},
	})
	if err != nil {
		t.Fatalf("NewBackendServicesTokenSource: %v", err)
	}

	tok, err := src.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !strings.HasPrefix(tok.AccessToken, "tok-") {
		t.Errorf("unexpected access token %q", tok.AccessToken)
	}
	if _, err := src.Token(); err != nil {
		t.Fatalf("second Token: %v", err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.requests != 1 {
		t.Errorf("expected the token to be reused, got %d requests", ts.requests)
	}
	if len(ts.scopes) != 2 {
		t.Errorf("expected scopes to be sent, got %v", ts.scopes)
	}
}

func TestBackendServicesTokenSource_WrongKey(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	srv := httptest.NewServer(&tokenServer{t: t, key: &other.PublicKey, clientID: "client-1"})
	defer srv.Close()

	src, err := NewBackendServicesTokenSource(context.Background(), BackendServicesConfig{
		ClientID:   "client-1",
		TokenURL:   srv.URL + "/token",
		PrivateKey: key,
	})
	if err != nil {
		t.Fatalf("NewBackendServicesTokenSource: %v", err)
	}
	if _, err := src.Token(); err == nil {
		t.Fatal("expected token request to be rejected")
	}
}

func TestNewBackendServicesTokenSource_Validation(t *testing.T) {
	key := generateTestKey(t)
	tests := []struct {
		name string
		cfg  BackendServicesConfig
	}{
		{"missing client", BackendServicesConfig{TokenURL: "u", PrivateKey: key}},
		{"missing token url", BackendServicesConfig{ClientID: "c", PrivateKey: key}},
		{"missing key", BackendServicesConfig{ClientID: "c", TokenURL: "u"}},
		{"bad scope", BackendServicesConfig{ClientID: "c", TokenURL: "u", PrivateKey: key, Scopes: []string{"system/Encounter.delete"}}},
	}
	for _, tc := range tests {
		if _, err := NewBackendServicesTokenSource(context.Background(), tc.cfg); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func writeKeyFile(t *testing.T, key *rsa.PrivateKey, pkcs8 bool) string {
	t.Helper()
	var block *pem.Block
	if pkcs8 {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatal(err)
		}
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	} else {
		block = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	}
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
