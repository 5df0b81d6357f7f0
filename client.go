package jwtbearer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/jwt-bearer-go/internal/logctx"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultExpirationMargin is subtracted from every server-declared lifetime
	// to cover worst-case latency between issuance and use.
	DefaultExpirationMargin = 30 * time.Second

	// DefaultCapacity bounds the number of ready tokens kept in memory.
	DefaultCapacity = 256

	// DefaultAcquireTimeout bounds a single shared exchange with the authority.
	DefaultAcquireTimeout = 30 * time.Second
)

const maxLifetimeSeconds = math.MaxInt64 / int64(time.Second)

// TokenGetter is the operation the bearer adapters depend on.
type TokenGetter interface {
	GetAccessToken(ctx context.Context, scopes []string) (*Token, error)
}

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient     *http.Client
	logHandler     slog.Handler
	margin         time.Duration
	capacity       int
	acquireTimeout time.Duration
	sweepInterval  time.Duration
	now            func() time.Time
}

// WithHTTPClient sets the client used to reach the authority. Retry and
// connection pooling policy belong to it.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogHandler sets the slog.Handler for diagnostic events. If nil, logging
// is discarded.
func WithLogHandler(h slog.Handler) Option {
	return func(o *options) { o.logHandler = h }
}

// WithExpirationMargin overrides DefaultExpirationMargin.
func WithExpirationMargin(d time.Duration) Option {
	return func(o *options) { o.margin = d }
}

// WithCapacity overrides DefaultCapacity. When full, the least recently used
// ready token is evicted. In-flight requests are never evicted.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithAcquireTimeout overrides DefaultAcquireTimeout.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) { o.acquireTimeout = d }
}

// WithSweepInterval starts a background sweep that removes expired tokens
// every d. Without it expired tokens are removed on lookup.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithClock replaces time.Now. A nil func keeps time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// snapshot is an immutable view of the configuration. Every config swap
// installs a new snapshot with a higher generation.
type snapshot struct {
	cfg        *ClientConfig
	generation uint64
}

// Client obtains access tokens with the JWT-bearer grant and caches them per
// scope key. At most one exchange per scope key is in flight at a time; all
// concurrent callers for that key share its outcome. Client is safe for
// concurrent use.
type Client struct {
	log            *slog.Logger
	acquirer       *acquirer
	margin         time.Duration
	acquireTimeout time.Duration
	now            func() time.Time

	config atomic.Pointer[snapshot]

	// mu guards ready. It is never held across an exchange.
	mu    sync.Mutex
	ready *simplelru.LRU[string, *Token]

	flights singleflight.Group

	stop     chan struct{}
	stopOnce sync.Once
}

// New validates cfg and returns a Client for it.
func New(cfg *ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		margin:         DefaultExpirationMargin,
		capacity:       DefaultCapacity,
		acquireTimeout: DefaultAcquireTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	var problems []string
	if o.capacity <= 0 {
		problems = append(problems, fmt.Sprintf("capacity must be positive, got %d", o.capacity))
	}
	if o.margin < 0 {
		problems = append(problems, fmt.Sprintf("expiration margin must not be negative, got %s", o.margin))
	}
	if o.acquireTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("acquire timeout must be positive, got %s", o.acquireTimeout))
	}
	if len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}

	logHandler := slog.DiscardHandler
	if o.logHandler != nil {
		logHandler = o.logHandler
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		log:            slog.New(logctx.Handler{Handler: logHandler}),
		acquirer:       &acquirer{httpClient: httpClient},
		margin:         o.margin,
		acquireTimeout: o.acquireTimeout,
		now:            o.now,
		stop:           make(chan struct{}),
	}

	ready, err := simplelru.NewLRU[string, *Token](o.capacity, func(key string, _ *Token) {
		c.log.Debug("token evicted", slog.String("scope", key))
	})
	if err != nil {
		return nil, &ConfigurationError{Problems: []string{"cannot create token cache"}, Err: err}
	}
	c.ready = ready
	c.config.Store(&snapshot{cfg: cfg, generation: 1})

	if o.sweepInterval > 0 {
		go c.sweepExpired(o.sweepInterval)
	}

	return c, nil
}

// Config returns the configuration currently in use.
func (c *Client) Config() *ClientConfig {
	return c.config.Load().cfg
}

// SetConfig validates cfg and installs it as a whole. Cached tokens obtained
// under the previous configuration are dropped. Exchanges already in flight
// finish for their waiters but do not populate the cache.
func (c *Client) SetConfig(cfg *ClientConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.config.Load()
	c.config.Store(&snapshot{cfg: cfg, generation: prev.generation + 1})
	c.ready.Purge()
	c.mu.Unlock()

	c.log.Info("client configuration replaced",
		slog.String("client_id", cfg.ClientID),
		slog.String("authority", cfg.Authority))
	return nil
}

// GetAccessToken returns a valid token for scopes, obtaining one from the
// authority when none is cached. Scope order is significant.
//
// ctx bounds only this caller's wait. The shared exchange continues for
// other waiters, and its result is cached, when ctx is cancelled.
func (c *Client) GetAccessToken(ctx context.Context, scopes []string) (*Token, error) {
	key := ScopeKey(scopes)

	if tok, ok := c.lookup(key); ok {
		c.log.DebugContext(ctx, "token cache hit", slog.String("scope", key))
		return tok, nil
	}
	c.log.DebugContext(ctx, "token cache miss", slog.String("scope", key))

	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return c.fetch(detached, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	case <-ctx.Done():
		return nil, &AuthenticationError{Err: fmt.Errorf("waiting for token: %w", ctx.Err())}
	}
}

// Invalidate drops the cached token for scopes, if any.
func (c *Client) Invalidate(scopes []string) {
	key := ScopeKey(scopes)
	c.mu.Lock()
	removed := c.ready.Remove(key)
	c.mu.Unlock()
	if removed {
		c.log.Debug("token invalidated", slog.String("scope", key))
	}
}

// Purge drops every cached token.
func (c *Client) Purge() {
	c.mu.Lock()
	c.ready.Purge()
	c.mu.Unlock()
}

// Len returns the number of cached tokens, including expired ones not yet
// removed.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Len()
}

// Close stops the background sweep. It does not affect in-flight exchanges.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

// lookup returns the cached token for key when it is still valid. An expired
// entry is removed.
func (c *Client) lookup(key string) (*Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, ok := c.ready.Get(key)
	if !ok {
		return nil, false
	}
	if !tok.Valid(c.now()) {
		c.ready.Remove(key)
		return nil, false
	}
	return tok, true
}

// fetch runs once per flight. It is the only place an exchange happens.
func (c *Client) fetch(ctx context.Context, key string) (*Token, error) {
	// A flight for key may have completed between lookup and DoChan.
	if tok, ok := c.lookup(key); ok {
		return tok, nil
	}

	snap := c.config.Load()
	start := c.now()
	ctx = logctx.WithExchangeData(ctx, &logctx.ExchangeData{
		ClientID:   snap.cfg.ClientID,
		Scope:      key,
		Generation: snap.generation,
	})

	tok, err := c.exchange(ctx, snap.cfg, key, start)
	if err != nil {
		c.log.WarnContext(ctx, "token acquisition failed", slog.String("err", err.Error()))
		return nil, err
	}

	c.mu.Lock()
	if c.config.Load().generation == snap.generation {
		c.ready.Add(key, tok)
	}
	c.mu.Unlock()

	c.log.DebugContext(ctx, "token retrieved",
		slog.Int64("expires_in", tok.ExpiresIn),
		slog.Time("expiry", tok.Expiry))
	return tok, nil
}

// exchange builds the assertion, performs the request and checks the
// resulting expiry. Every error it returns belongs to the taxonomy.
func (c *Client) exchange(ctx context.Context, cfg *ClientConfig, key string, start time.Time) (*Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.acquireTimeout)
	defer cancel()

	assertion, err := buildAssertion(cfg, key, start)
	if err != nil {
		return nil, classify(err)
	}

	c.log.DebugContext(ctx, "token request sent",
		slog.String("endpoint", tokenEndpoint(cfg.Authority)))

	resp, err := c.acquirer.acquire(ctx, cfg.Authority, buildRequestBody(assertion))
	if err != nil {
		return nil, classify(err)
	}

	expiresIn := *resp.ExpiresIn
	// Durations overflow past ~292 years; clamp so long lifetimes stay positive.
	lifetime := expiresIn
	if lifetime > maxLifetimeSeconds {
		lifetime = maxLifetimeSeconds
	}
	expiry := start.Add(time.Duration(lifetime)*time.Second - c.margin)
	if !expiry.After(c.now()) {
		return nil, &TokenExpiredError{ExpiresIn: expiresIn, Margin: c.margin}
	}

	return &Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresIn:   expiresIn,
		Expiry:      expiry,
	}, nil
}

// sweepExpired periodically removes expired tokens until Close is called.
func (c *Client) sweepExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Client) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, key := range c.ready.Keys() {
		if tok, ok := c.ready.Peek(key); ok && !tok.Valid(now) {
			c.ready.Remove(key)
		}
	}
}
