package jwtbearer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestBuildAssertion(t *testing.T) {
	key := sharedKey(t)
	cfg := &ClientConfig{
		ClientID:   "svc",
		Authority:  "https://auth.example.com/",
		SigningKey: key,
		KeyID:      "k1",
	}
	now := time.Now().Truncate(time.Second)

	signed, err := buildAssertion(cfg, "a b", now)
	if err != nil {
		t.Fatalf("buildAssertion: %v", err)
	}

	claims := &assertionClaims{}
	tok, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience("https://auth.example.com/"),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("parse assertion: %v", err)
	}
	if kid := tok.Header["kid"]; kid != "k1" {
		t.Fatalf("want kid k1, got %v", kid)
	}
	if claims.Issuer != "svc" || claims.Subject != "svc" {
		t.Fatalf("unexpected iss/sub %q/%q", claims.Issuer, claims.Subject)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != cfg.Authority {
		t.Fatalf("want aud %q verbatim, got %v", cfg.Authority, claims.Audience)
	}
	if claims.Scope != "a b" {
		t.Fatalf("unexpected scope %q", claims.Scope)
	}
	if !claims.IssuedAt.Equal(now) || !claims.ExpiresAt.Equal(now.Add(2*time.Minute)) {
		t.Fatalf("unexpected iat/exp %s/%s", claims.IssuedAt, claims.ExpiresAt)
	}
	if claims.ID == "" {
		t.Fatal("missing jti")
	}

	again, err := buildAssertion(cfg, "a b", now)
	if err != nil {
		t.Fatalf("buildAssertion: %v", err)
	}
	if again == signed {
		t.Fatal("assertions must carry a unique jti")
	}
}

func TestBuildAssertion_NoKeyID(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ClientConfig{ClientID: "svc", Authority: "https://auth.example.com", SigningKey: key}

	signed, err := buildAssertion(cfg, "", time.Now())
	if err != nil {
		t.Fatalf("buildAssertion: %v", err)
	}
	tok, _, err := jwt.NewParser().ParseUnverified(signed, &assertionClaims{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := tok.Header["kid"]; ok {
		t.Fatal("kid header set without a key id")
	}
	if tok.Method.Alg() != "ES384" {
		t.Fatalf("want ES384, got %s", tok.Method.Alg())
	}
}

func TestBuildAssertion_UnsupportedKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P224(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ClientConfig{ClientID: "svc", Authority: "https://auth.example.com", SigningKey: key}

	_, err = buildAssertion(cfg, "read", time.Now())
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("want ErrConfiguration, got %v", err)
	}
}

func TestBuildRequestBody(t *testing.T) {
	body := buildRequestBody("x.y.z")

	if !strings.HasPrefix(body, "grant_type=urn%3Aietf%3Aparams%3Aoauth%3Agrant-type%3Ajwt-bearer&") {
		t.Fatalf("grant_type must come first: %s", body)
	}
	form, err := url.ParseQuery(body)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if form.Get("grant_type") != GrantType || form.Get("assertion") != "x.y.z" {
		t.Fatalf("unexpected form %v", form)
	}
	if len(form) != 2 {
		t.Fatalf("want exactly two fields, got %v", form)
	}
}

func TestBuildAssertion_AudienceIsAuthorityVerbatim(t *testing.T) {
	key := sharedKey(t)
	for _, authority := range []string{"https://maskinporten.example/", "https://auth.example.com", "https://auth.example.com/tenant/"} {
		cfg := &ClientConfig{ClientID: "svc", Authority: authority, SigningKey: key}
		signed, err := buildAssertion(cfg, "read", time.Now())
		if err != nil {
			t.Fatalf("buildAssertion: %v", err)
		}
		claims := &assertionClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(signed, claims); err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(claims.Audience) != 1 || claims.Audience[0] != authority {
			t.Errorf("aud = %v, want [%s]", claims.Audience, authority)
		}
	}
	if got := tokenEndpoint("https://maskinporten.example/"); got != "https://maskinporten.example/token" {
		t.Errorf("tokenEndpoint = %q", got)
	}
}
