package jwtbearer

import (
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GrantType is the RFC 7523 grant_type value sent to the token endpoint.
const GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// assertionLifetime bounds the validity of the signed assertion itself. It is
// unrelated to the lifetime of the access token obtained with it.
const assertionLifetime = 2 * time.Minute

type assertionClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// buildAssertion signs a fresh assertion for scopeKey. A key the signer
// rejects is a setup problem and is reported as a ConfigurationError.
func buildAssertion(cfg *ClientConfig, scopeKey string, now time.Time) (string, error) {
	method, err := signingMethodFor(cfg.SigningKey)
	if err != nil {
		return "", &ConfigurationError{Problems: []string{err.Error()}}
	}

	claims := assertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.ClientID,
			Subject:   cfg.ClientID,
			Audience:  jwt.ClaimStrings{cfg.Authority},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
			ID:        uuid.NewString(),
		},
		Scope: scopeKey,
	}

	tok := jwt.NewWithClaims(method, claims)
	if cfg.KeyID != "" {
		tok.Header["kid"] = cfg.KeyID
	}
	signed, err := tok.SignedString(cfg.SigningKey)
	if err != nil {
		return "", &ConfigurationError{Problems: []string{"signing key rejected"}, Err: err}
	}
	return signed, nil
}

// buildRequestBody encodes the token request form. The field names are part
// of the authority's wire contract; grant_type is written first.
func buildRequestBody(assertion string) string {
	return "grant_type=" + url.QueryEscape(GrantType) + "&assertion=" + url.QueryEscape(assertion)
}
