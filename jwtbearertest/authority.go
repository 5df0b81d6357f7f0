// Package jwtbearertest provides a fake token authority for exercising
// JWT-bearer clients against a real HTTP server.
//
// The Authority verifies each assertion the way a production authority would:
// signature through a JWK set of registered client keys, exact audience, expiry,
// issuer/subject and a unique jti. Tests can count requests, hold responses
// behind a gate and replace the success response.
package jwtbearertest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// AssertionClaims are the claims the Authority decodes from a verified assertion.
type AssertionClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Responder writes the response for a verified token request. It replaces the
// default success response.
type Responder func(w http.ResponseWriter, r *http.Request, claims *AssertionClaims)

// Option configures an Authority.
type Option func(*Authority)

// WithExpiresIn sets expires_in for default success responses. Default 3600.
func WithExpiresIn(seconds int64) Option {
	return func(a *Authority) { a.expiresIn.Store(seconds) }
}

// WithResponder installs r for every verified request.
func WithResponder(r Responder) Option {
	return func(a *Authority) { a.responder = r }
}

// WithLeeway sets the clock skew tolerated on assertion iat and exp. Default
// one minute. Tests that move a client clock far ahead need a larger value.
func WithLeeway(d time.Duration) Option {
	return func(a *Authority) { a.leeway = d }
}

// WithGate makes every request wait for a receive from gate (or a closed gate)
// before it is answered. Requests are counted before they wait.
func WithGate(gate <-chan struct{}) Option {
	return func(a *Authority) { a.gate = gate }
}

// Authority is an httptest-backed token endpoint at URL + "/token".
type Authority struct {
	URL string

	srv       *httptest.Server
	responder Responder
	gate      <-chan struct{}
	leeway    time.Duration
	expiresIn atomic.Int64
	requests  atomic.Int64
	arrived   chan struct{}

	mu       sync.Mutex
	audience string
	keys     []jose.JSONWebKey
	clients map[string]struct{}
	keyfunc keyfunc.Keyfunc
	seenJTI map[string]struct{}
	last    *AssertionClaims
}

// NewAuthority starts an Authority that is closed when the test ends.
func NewAuthority(t testing.TB, opts ...Option) *Authority {
	t.Helper()

	a := &Authority{
		clients: map[string]struct{}{},
		seenJTI: map[string]struct{}{},
		arrived: make(chan struct{}, 1024),
	}
	a.expiresIn.Store(3600)
	a.leeway = time.Minute
	for _, opt := range opts {
		opt(a)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", a.handleToken)
	a.srv = httptest.NewServer(mux)
	a.URL = a.srv.URL
	a.audience = a.URL
	t.Cleanup(a.srv.Close)
	return a
}

// RegisterClient trusts pub for assertions issued by clientID. kid must match
// the kid header the client sends; it may be empty when the client sends none.
func (a *Authority) RegisterClient(clientID string, pub crypto.PublicKey, kid string) error {
	alg, err := algorithmFor(pub)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	keys := append(append([]jose.JSONWebKey(nil), a.keys...), jose.JSONWebKey{
		Key:       pub,
		KeyID:     kid,
		Algorithm: alg,
		Use:       "sig",
	})
	raw, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	if err != nil {
		return fmt.Errorf("marshal jwks: %w", err)
	}
	kf, err := keyfunc.NewJWKSetJSON(raw)
	if err != nil {
		return fmt.Errorf("load jwks: %w", err)
	}

	a.keys = keys
	a.keyfunc = kf
	a.clients[clientID] = struct{}{}
	return nil
}

// SetAudience sets the exact aud value assertions must carry. It defaults to
// URL; clients configured with a different authority string, such as URL
// with a trailing slash, need it set to that string.
func (a *Authority) SetAudience(aud string) {
	a.mu.Lock()
	a.audience = aud
	a.mu.Unlock()
}

// SetExpiresIn changes expires_in for subsequent default responses.
func (a *Authority) SetExpiresIn(seconds int64) { a.expiresIn.Store(seconds) }

// Requests returns the number of token requests received.
func (a *Authority) Requests() int64 { return a.requests.Load() }

// Arrived receives one value per request as soon as it is counted.
func (a *Authority) Arrived() <-chan struct{} { return a.arrived }

// LastAssertion returns the claims of the most recently verified assertion.
func (a *Authority) LastAssertion() *AssertionClaims {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *Authority) handleToken(w http.ResponseWriter, r *http.Request) {
	a.requests.Add(1)
	select {
	case a.arrived <- struct{}{}:
	default:
	}

	if a.gate != nil {
		select {
		case <-a.gate:
		case <-r.Context().Done():
			return
		}
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if r.PostForm.Get("grant_type") != jwtBearerGrantType {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	assertion := r.PostForm.Get("assertion")
	if assertion == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	claims, err := a.verify(assertion)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	if a.responder != nil {
		a.responder(w, r, claims)
		return
	}
	WriteToken(w, uuid.NewString(), a.expiresIn.Load())
}

func (a *Authority) verify(assertion string) (*AssertionClaims, error) {
	a.mu.Lock()
	kf := a.keyfunc
	aud := a.audience
	a.mu.Unlock()
	if kf == nil {
		return nil, errors.New("no registered clients")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "ES256", "ES384", "ES512", "EdDSA"}),
		jwt.WithAudience(aud),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(a.leeway),
	)
	claims := &AssertionClaims{}
	if _, err := parser.ParseWithClaims(assertion, claims, kf.Keyfunc); err != nil {
		return nil, err
	}
	if claims.Issuer == "" || claims.Subject != claims.Issuer {
		return nil, errors.New("issuer and subject must name the client")
	}
	if claims.ID == "" {
		return nil, errors.New("missing jti")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.clients[claims.Issuer]; !ok {
		return nil, fmt.Errorf("unknown client %q", claims.Issuer)
	}
	if _, replay := a.seenJTI[claims.ID]; replay {
		return nil, fmt.Errorf("replayed jti %q", claims.ID)
	}
	a.seenJTI[claims.ID] = struct{}{}
	a.last = claims
	return claims, nil
}

// WriteToken writes a successful token response.
func WriteToken(w http.ResponseWriter, accessToken string, expiresIn int64) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	})
}

// RespondRaw returns a Responder that writes status and body verbatim with the
// given content type.
func RespondRaw(status int, contentType string, body string) Responder {
	return func(w http.ResponseWriter, _ *http.Request, _ *AssertionClaims) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func algorithmFor(pub crypto.PublicKey) (string, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RS256", nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return "ES256", nil
		case elliptic.P384():
			return "ES384", nil
		case elliptic.P521():
			return "ES512", nil
		}
	case ed25519.PublicKey:
		return "EdDSA", nil
	}
	return "", fmt.Errorf("unsupported public key type %T", pub)
}

// GenerateRSAKey returns a fresh 2048-bit RSA key.
func GenerateRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return pk
}

// GenerateECKey returns a fresh P-256 ECDSA key.
func GenerateECKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	pk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdsa key: %v", err)
	}
	return pk
}
