package jwtbearer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    error
		notWant []error
	}{
		{
			name:    "configuration",
			err:     &ConfigurationError{Problems: []string{"client id is required"}},
			want:    ErrConfiguration,
			notWant: []error{ErrAuthentication, ErrTokenExpired},
		},
		{
			name:    "authentication",
			err:     &AuthenticationError{StatusCode: 400, Body: `{"error":"invalid_grant"}`},
			want:    ErrAuthentication,
			notWant: []error{ErrConfiguration, ErrTokenExpired},
		},
		{
			name:    "expired",
			err:     &TokenExpiredError{ExpiresIn: 10, Margin: 30 * time.Second},
			want:    ErrTokenExpired,
			notWant: []error{ErrConfiguration, ErrAuthentication},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.want) {
				t.Fatalf("errors.Is(%v, %v) = false", wrapped, tt.want)
			}
			for _, other := range tt.notWant {
				if errors.Is(wrapped, other) {
					t.Fatalf("errors.Is(%v, %v) = true", wrapped, other)
				}
			}
		})
	}
}

func TestConfigurationError_Message(t *testing.T) {
	err := &ConfigurationError{
		Problems: []string{"client id is required", "authority is required"},
		Err:      errors.New("boom"),
	}
	want := "jwtbearer: invalid configuration: client id is required; authority is required: boom"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !errors.Is(err, err.Err) {
		t.Fatal("cause not unwrapped")
	}
}

func TestAuthenticationError_Message(t *testing.T) {
	err := &AuthenticationError{StatusCode: 401, Body: `{"error":"invalid_client"}`}
	msg := err.Error()
	if !strings.Contains(msg, "HTTP 401") || !strings.Contains(msg, `{"error":"invalid_client"}`) {
		t.Fatalf("unexpected message %q", msg)
	}

	transport := &AuthenticationError{Err: context.DeadlineExceeded}
	if strings.Contains(transport.Error(), "HTTP") {
		t.Fatalf("status printed without a response: %q", transport.Error())
	}
	if !errors.Is(transport, context.DeadlineExceeded) {
		t.Fatal("cause not unwrapped")
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Fatal("classify(nil) != nil")
	}

	cfgErr := &ConfigurationError{Problems: []string{"x"}}
	if got := classify(cfgErr); got != cfgErr {
		t.Fatalf("taxonomy error rewrapped: %v", got)
	}
	expired := &TokenExpiredError{ExpiresIn: 1}
	if got := classify(expired); got != expired {
		t.Fatalf("taxonomy error rewrapped: %v", got)
	}

	cause := errors.New("connection reset")
	got := classify(cause)
	var authErr *AuthenticationError
	if !errors.As(got, &authErr) || authErr.Err != cause {
		t.Fatalf("want AuthenticationError wrapping cause, got %#v", got)
	}
}
