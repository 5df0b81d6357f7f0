package jwtbearer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels for errors.Is. Every error returned by this package matches exactly
// one of them.
var (
	// ErrConfiguration indicates invalid or missing client settings.
	ErrConfiguration = errors.New("jwtbearer: invalid configuration")

	// ErrAuthentication indicates the token exchange with the authority failed.
	ErrAuthentication = errors.New("jwtbearer: authentication failed")

	// ErrTokenExpired indicates the authority issued a token whose lifetime,
	// after subtracting the expiration margin, had already elapsed on receipt.
	ErrTokenExpired = errors.New("jwtbearer: token expired")
)

// ConfigurationError reports invalid client settings. Problems lists every
// violated constraint; Err carries the underlying cause when there is one
// (for example a key the signer rejected).
type ConfigurationError struct {
	Problems []string
	Err      error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("jwtbearer: invalid configuration")
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error        { return e.Err }
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// AuthenticationError reports a failed exchange with the authority: a transport
// failure, a non-success status or a malformed response. StatusCode is zero
// when no response was received. Body holds the raw response body verbatim.
type AuthenticationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthenticationError) Error() string {
	var b strings.Builder
	b.WriteString("jwtbearer: authentication failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	return b.String()
}

func (e *AuthenticationError) Unwrap() error        { return e.Err }
func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// TokenExpiredError reports a token that was already unusable when received.
type TokenExpiredError struct {
	ExpiresIn int64
	Margin    time.Duration
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("jwtbearer: token expired on receipt (expires_in=%ds, margin=%s)", e.ExpiresIn, e.Margin)
}

func (e *TokenExpiredError) Is(target error) bool { return target == ErrTokenExpired }

// classify returns err unchanged when it already belongs to the taxonomy and
// wraps it in an AuthenticationError otherwise.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		cfgErr     *ConfigurationError
		authErr    *AuthenticationError
		expiredErr *TokenExpiredError
	)
	if errors.As(err, &cfgErr) || errors.As(err, &authErr) || errors.As(err, &expiredErr) {
		return err
	}
	return &AuthenticationError{Err: err}
}
