package jwtbearer

import (
	"strings"
	"time"
)

// Token is an access token issued by the authority. A Token is immutable once
// returned and may be shared freely between goroutines.
type Token struct {
	AccessToken string
	TokenType   string
	// ExpiresIn is the lifetime declared by the authority, in seconds.
	ExpiresIn int64
	// Expiry is the instant after which the cache stops serving the token:
	// request start + ExpiresIn - expiration margin.
	Expiry time.Time
}

// Valid reports whether the token may still be served at now.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Before(t.Expiry)
}

// ScopeKey joins scopes with single spaces in the order given. Sequences that
// differ only in order yield different keys.
func ScopeKey(scopes []string) string {
	return strings.Join(scopes, " ")
}
