package jwtbearer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// ClientConfig identifies the client to the authority. A ClientConfig handed
// to a Client must not be mutated afterwards; use Client.SetConfig with a new
// value instead.
type ClientConfig struct {
	// ClientID is used as the assertion issuer and subject.
	ClientID string
	// Authority is the base URL of the token-issuing service. Tokens are
	// requested from {Authority}/token and the assertion audience is Authority.
	Authority string
	// SigningKey is an *rsa.PrivateKey, *ecdsa.PrivateKey or ed25519.PrivateKey.
	SigningKey crypto.PrivateKey
	// KeyID is placed in the assertion's kid header when non-empty.
	KeyID string
}

// Validate checks every constraint and reports all violations in a single
// ConfigurationError.
func (c *ClientConfig) Validate() error {
	if c == nil {
		return &ConfigurationError{Problems: []string{"config is required"}}
	}

	var problems []string
	if strings.TrimSpace(c.ClientID) == "" {
		problems = append(problems, "client id is required")
	}
	if c.Authority == "" {
		problems = append(problems, "authority is required")
	} else if u, err := url.Parse(c.Authority); err != nil {
		problems = append(problems, fmt.Sprintf("authority %q is not a valid URL: %v", c.Authority, err))
	} else if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("authority %q must be an absolute http(s) URL", c.Authority))
	}
	if c.SigningKey == nil {
		problems = append(problems, "signing key is required")
	} else if _, err := signingMethodFor(c.SigningKey); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// signingMethodFor picks the asymmetric JWS algorithm matching the key type.
func signingMethodFor(key crypto.PrivateKey) (jwt.SigningMethod, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, nil
		}
		return nil, fmt.Errorf("unsupported ecdsa curve %s", k.Curve.Params().Name)
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, nil
	}
	return nil, fmt.Errorf("unsupported signing key type %T", key)
}

// ParseSigningKey decodes a private key from a JWK JSON document or a PEM
// block (PKCS#1, PKCS#8 or SEC 1). The returned key ID is the JWK "kid" and is
// empty for PEM input.
func ParseSigningKey(data []byte) (crypto.PrivateKey, string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, "", &ConfigurationError{Problems: []string{"signing key is empty"}}
	}

	if strings.HasPrefix(trimmed, "{") {
		var jwk jose.JSONWebKey
		if err := json.Unmarshal([]byte(trimmed), &jwk); err != nil {
			return nil, "", &ConfigurationError{Problems: []string{"signing key is not a valid JWK"}, Err: err}
		}
		if jwk.IsPublic() {
			return nil, "", &ConfigurationError{Problems: []string{"signing key JWK holds no private key"}}
		}
		if _, err := signingMethodFor(jwk.Key); err != nil {
			return nil, "", &ConfigurationError{Problems: []string{err.Error()}}
		}
		return jwk.Key, jwk.KeyID, nil
	}

	rsaKey, rsaErr := jwt.ParseRSAPrivateKeyFromPEM(data)
	if rsaErr == nil {
		return rsaKey, "", nil
	}
	ecKey, ecErr := jwt.ParseECPrivateKeyFromPEM(data)
	if ecErr == nil {
		return ecKey, "", nil
	}
	edKey, edErr := jwt.ParseEdPrivateKeyFromPEM(data)
	if edErr == nil {
		return edKey, "", nil
	}
	return nil, "", &ConfigurationError{
		Problems: []string{"signing key is not a supported PEM private key"},
		Err:      errors.Join(rsaErr, ecErr, edErr),
	}
}
