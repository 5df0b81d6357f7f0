package jwtbearer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
)

const maxResponseBytes = 1 << 20

var errMalformedResponse = errors.New("malformed token response")

// tokenResponse carries the pre-expiry fields of a successful response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   *int64 `json:"expires_in"`
}

// acquirer performs the POST to the authority's token endpoint. It does
// transport and parsing only; expiry is computed by the caller.
type acquirer struct {
	httpClient *http.Client
}

func tokenEndpoint(authority string) string {
	return strings.TrimRight(authority, "/") + "/token"
}

// isJSON accepts application/json and structured +json subtypes, ignoring
// parameters such as charset.
func isJSON(mt contenttype.MediaType) bool {
	if mt.Type != "application" {
		return false
	}
	return mt.Subtype == "json" || strings.HasSuffix(mt.Subtype, "+json")
}

func (a *acquirer) acquire(ctx context.Context, authority string, body string) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint(authority), strings.NewReader(body))
	if err != nil {
		return nil, &ConfigurationError{Problems: []string{"cannot build token request"}, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &AuthenticationError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read token response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Err:        fmt.Errorf("%w: %w", errMalformedResponse, err),
		}
	}

	// JSON served under a declared non-JSON type is rejected; a missing header is tolerated.
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if !isJSON(contenttype.NewMediaType(ct)) {
			return nil, &AuthenticationError{
				StatusCode: resp.StatusCode,
				Body:       string(raw),
				Err:        fmt.Errorf("%w: unexpected content type %q", errMalformedResponse, ct),
			}
		}
	}

	var missing []string
	if tr.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if tr.TokenType == "" {
		missing = append(missing, "token_type")
	}
	if tr.ExpiresIn == nil {
		missing = append(missing, "expires_in")
	}
	if len(missing) > 0 {
		return nil, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Err:        fmt.Errorf("%w: missing %s", errMalformedResponse, strings.Join(missing, ", ")),
		}
	}

	return &tr, nil
}
