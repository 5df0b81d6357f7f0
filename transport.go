package jwtbearer

import (
	"context"
	"net/http"

	"github.com/ggoodman/jwt-bearer-go/internal/logctx"
	"golang.org/x/oauth2"
)

var _ http.RoundTripper = (*Transport)(nil)

// Transport is an http.RoundTripper that authorizes each outgoing request with
// a bearer token for Scopes obtained from Source.
//
// When the downstream service answers 401 and Source is a *Client, the cached
// token for Scopes is invalidated so the next request obtains a fresh one. The
// failed request itself is not retried.
type Transport struct {
	Source TokenGetter
	Scopes []string
	// Base is the underlying RoundTripper. If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqBodyClosed := false
	if req.Body != nil {
		defer func() {
			if !reqBodyClosed {
				req.Body.Close()
			}
		}()
	}

	ctx := logctx.WithRequestData(req.Context(), &logctx.RequestData{
		Method: req.Method,
		Host:   req.URL.Host,
		Path:   req.URL.Path,
	})
	tok, err := t.Source.GetAccessToken(ctx, t.Scopes)
	if err != nil {
		return nil, err
	}

	// RoundTrippers must not modify the caller's request.
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	reqBodyClosed = true
	resp, err := t.base().RoundTrip(req2)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := t.Source.(interface{ Invalidate([]string) }); ok {
			inv.Invalidate(t.Scopes)
		}
	}
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// HTTPClient returns an *http.Client whose requests carry a bearer token for
// scopes. base may be nil.
func (c *Client) HTTPClient(base http.RoundTripper, scopes ...string) *http.Client {
	return &http.Client{
		Transport: &Transport{Source: c, Scopes: scopes, Base: base},
	}
}

// TokenSource adapts the client to golang.org/x/oauth2. ctx is used for every
// Token call, as oauth2.TokenSource carries no per-call context.
func (c *Client) TokenSource(ctx context.Context, scopes ...string) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, client: c, scopes: scopes}
}

type tokenSource struct {
	ctx    context.Context
	client *Client
	scopes []string
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.client.GetAccessToken(s.ctx, s.scopes)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Expiry:      tok.Expiry,
		ExpiresIn:   tok.ExpiresIn,
	}, nil
}
