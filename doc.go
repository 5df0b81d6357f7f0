// Package jwtbearer implements the client side of the OAuth 2.0 JWT-bearer
// grant (RFC 7523). A Client signs a short-lived assertion with its private
// key, exchanges it at the authority's token endpoint for an access token and
// caches that token per requested scope sequence until shortly before it
// expires.
//
// # Obtaining Tokens
//
//	key, kid, err := jwtbearer.ParseSigningKey(pemOrJWK)
//	if err != nil { log.Fatal(err) }
//
//	client, err := jwtbearer.New(&jwtbearer.ClientConfig{
//	    ClientID:   "billing-worker",
//	    Authority:  "https://auth.example.com",
//	    SigningKey: key,
//	    KeyID:      kid,
//	})
//	if err != nil { log.Fatal(err) }
//
//	tok, err := client.GetAccessToken(ctx, []string{"invoices:read"})
//
// Tokens are cached under the scopes joined by a single space, in the order
// given: []string{"a", "b"} and []string{"b", "a"} are separate entries. A
// cached token is served until its declared lifetime minus an expiration
// margin (DefaultExpirationMargin) has elapsed.
//
// # Concurrency
//
// Concurrent callers asking for the same scopes share a single exchange and
// receive the same *Token or the same error. Callers for different scopes
// never wait on each other. Cancelling a caller's context ends only that
// caller's wait; the exchange completes for the remaining callers and its
// result is cached.
//
// # Errors
//
// Every error is one of *ConfigurationError (bad settings or a key the signer
// rejects), *AuthenticationError (transport failure, non-success status or a
// malformed response; the raw body is retained) or *TokenExpiredError (the
// token was already unusable on receipt). Use errors.Is with ErrConfiguration,
// ErrAuthentication or ErrTokenExpired, or errors.As for details. Failures are
// never cached and never retried internally.
//
// # HTTP Clients
//
// Transport decorates an http.RoundTripper with an Authorization header;
// Client.HTTPClient and Client.TokenSource are shortcuts, the latter for use
// with golang.org/x/oauth2.
//
// # Reloading Configuration
//
// Client.SetConfig swaps the configuration as a whole. The config package
// loads configuration from the environment or a YAML file and can watch the
// file for changes.
package jwtbearer
