package jwtbearer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAcquire_Request(t *testing.T) {
	var gotPath, gotContentType, gotAccept, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"access_token":"abc","token_type":"Bearer","expires_in":60}`)
	}))
	t.Cleanup(srv.Close)

	a := &acquirer{httpClient: srv.Client()}
	resp, err := a.acquire(context.Background(), srv.URL+"/", "grant_type=x&assertion=y")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if gotPath != "/token" {
		t.Fatalf("want /token, got %s", gotPath)
	}
	if gotContentType != "application/x-www-form-urlencoded" || gotAccept != "application/json" {
		t.Fatalf("unexpected headers %q %q", gotContentType, gotAccept)
	}
	if gotBody != "grant_type=x&assertion=y" {
		t.Fatalf("unexpected body %q", gotBody)
	}
	if resp.AccessToken != "abc" || resp.TokenType != "Bearer" || *resp.ExpiresIn != 60 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAcquire_ContentTypes(t *testing.T) {
	body := `{"access_token":"abc","token_type":"Bearer","expires_in":60}`
	tests := []struct {
		contentType string
		wantErr     bool
	}{
		{"application/json", false},
		{"application/json;charset=UTF-8", false},
		{"application/vnd.token+json", false},
		{"text/plain", true},
		{"application/xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = io.WriteString(w, body)
			}))
			t.Cleanup(srv.Close)

			a := &acquirer{httpClient: srv.Client()}
			_, err := a.acquire(context.Background(), srv.URL, "")
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, errMalformedResponse) {
				t.Fatalf("want malformed response, got %v", err)
			}
		})
	}
}

func TestAcquire_MissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"abc"}`)
	}))
	t.Cleanup(srv.Close)

	a := &acquirer{httpClient: srv.Client()}
	_, err := a.acquire(context.Background(), srv.URL, "")
	if err == nil {
		t.Fatal("want error")
	}
	if msg := err.Error(); !strings.Contains(msg, "token_type") || !strings.Contains(msg, "expires_in") {
		t.Fatalf("missing fields not named: %s", msg)
	}
}

func TestAcquire_ErrorStatusKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>upstream down</html>")
	}))
	t.Cleanup(srv.Close)

	a := &acquirer{httpClient: srv.Client()}
	_, err := a.acquire(context.Background(), srv.URL, "")
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("want *AuthenticationError, got %v", err)
	}
	if authErr.StatusCode != http.StatusBadGateway || authErr.Body != "<html>upstream down</html>" {
		t.Fatalf("unexpected error %+v", authErr)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &acquirer{httpClient: srv.Client()}
	_, err := a.acquire(ctx, srv.URL, "")
	if !errors.Is(err, ErrAuthentication) || !errors.Is(err, context.Canceled) {
		t.Fatalf("want cancelled AuthenticationError, got %v", err)
	}
}
