package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-hradmin-client/internal/errors"
	"github.com/jrsteele09/go-hradmin-client/internal/metrics"
	"github.com/jrsteele09/go-hradmin-client/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Refresher exchanges a refresh token for a new token pair at the backend.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// ClaimsDecoder reads expiry out of an access token.
type ClaimsDecoder interface {
	IsExpired(accessToken string, now time.Time) bool
	ExpiresAt(accessToken string) (time.Time, error)
}

// Listener is told when a refresh network call starts and how it ended.
type Listener interface {
	RefreshStarted()
	RefreshFinished(err error)
}

// flight is one refresh cycle. Every caller that arrives while it is in
// progress parks on done and reads the same token/err once it is closed.
type flight struct {
	done    chan struct{}
	token   string
	err     error
	waiters int
}

// Coordinator keeps the stored token pair fresh and guarantees that at most
// one refresh call is outstanding no matter how many goroutines find the
// access token expired at the same time.
type Coordinator struct {
	store     token.Store
	decoder   ClaimsDecoder
	refresher Refresher
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	nowFunc   func() time.Time

	mu           sync.Mutex
	inflight     *flight
	listeners    map[int]Listener
	nextListener int
}

type Option func(*Coordinator)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithNowFunc sets the clock used for expiry checks (primarily for testing)
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func NewCoordinator(store token.Store, decoder ClaimsDecoder, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		decoder:   decoder,
		refresher: refresher,
		logger:    log.Logger,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.nowFunc == nil {
		c.nowFunc = func() time.Time { return NowTimeFunc() }
	}
	return c
}

// Subscribe registers l for refresh notifications until the returned func is called.
func (c *Coordinator) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// EnsureValidToken returns an access token that is not known to be expired,
// refreshing it first when needed.
func (c *Coordinator) EnsureValidToken(ctx context.Context) (string, error) {
	access := c.store.AccessToken()
	if access == "" {
		return "", apperrors.ErrNoSession
	}
	if !c.decoder.IsExpired(access, c.nowFunc()) {
		return access, nil
	}
	return c.refresh(ctx, access)
}

// RefreshAccessToken performs a refresh, or joins the one already in flight.
func (c *Coordinator) RefreshAccessToken(ctx context.Context) (string, error) {
	return c.refresh(ctx, "")
}

// RefreshIfStale is RefreshAccessToken for a caller holding staleAccess, a
// token the server has just rejected. If the store already holds a different,
// unexpired token, another caller refreshed in the meantime and that token is
// returned without a network call.
func (c *Coordinator) RefreshIfStale(ctx context.Context, staleAccess string) (string, error) {
	return c.refresh(ctx, staleAccess)
}

// IsRefreshing reports whether a refresh call is outstanding.
func (c *Coordinator) IsRefreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// Waiters returns how many callers are waiting on the outstanding refresh.
func (c *Coordinator) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return 0
	}
	return c.inflight.waiters
}

// Invalidate drops the stored session.
func (c *Coordinator) Invalidate() {
	if err := c.store.ClearTokens(); err != nil {
		c.logger.Err(err).Msg("Failed to clear stored tokens")
	}
}

func (c *Coordinator) refresh(ctx context.Context, staleAccess string) (string, error) {
	c.mu.Lock()
	f := c.inflight
	if f != nil {
		f.waiters++
		c.mu.Unlock()
		c.metrics.RefreshJoined()
		return c.wait(ctx, f)
	}

	if staleAccess != "" {
		current := c.store.AccessToken()
		if current != "" && current != staleAccess && !c.decoder.IsExpired(current, c.nowFunc()) {
			c.mu.Unlock()
			return current, nil
		}
	}

	f = &flight{done: make(chan struct{}), waiters: 1}
	c.inflight = f
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	// The flight outlives any single caller, so it must not inherit their cancellation.
	go c.run(context.WithoutCancel(ctx), f, listeners)
	return c.wait(ctx, f)
}

func (c *Coordinator) wait(ctx context.Context, f *flight) (string, error) {
	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.inflight == f {
			f.waiters--
		}
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, f *flight, listeners []Listener) {
	for _, l := range listeners {
		l.RefreshStarted()
	}

	accessToken, err := c.exchange(ctx)

	c.mu.Lock()
	f.token, f.err = accessToken, err
	c.inflight = nil
	c.mu.Unlock()

	for _, l := range listeners {
		l.RefreshFinished(err)
	}
	close(f.done)
}

// exchange performs the network refresh and applies its outcome to the store.
// The outcome only lands while the store still holds the refresh token that
// was sent; a logout or a new login in the meantime wins over it.
func (c *Coordinator) exchange(ctx context.Context) (accessToken string, err error) {
	refreshToken := c.store.RefreshToken()
	defer func() {
		if r := recover(); r != nil {
			c.apply(refreshToken, token.Pair{})
			accessToken, err = "", fmt.Errorf("%w: panic: %v", apperrors.ErrRefresh, r)
		}
	}()

	if refreshToken == "" {
		c.Invalidate()
		return "", fmt.Errorf("%w: no refresh token", apperrors.ErrNoSession)
	}

	tok, err := c.refresher.Refresh(ctx, refreshToken)
	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = fmt.Errorf("%w: refresh response without access token", apperrors.ErrInvalidResponse)
	}
	c.metrics.RefreshDone(err)
	if err != nil {
		if !c.apply(refreshToken, token.Pair{}) {
			return c.current()
		}
		c.logger.Err(err).Msg("Token refresh failed, clearing session")
		return "", fmt.Errorf("%w: %w", apperrors.ErrRefresh, err)
	}

	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	if !c.apply(refreshToken, token.Pair{AccessToken: tok.AccessToken, RefreshToken: newRefresh}) {
		return c.current()
	}

	evt := c.logger.Debug()
	if exp, err := c.decoder.ExpiresAt(tok.AccessToken); err == nil {
		evt = evt.Time("expires", exp)
	}
	evt.Msg("Access token refreshed")
	return tok.AccessToken, nil
}

// apply swaps next into the store if it still holds sentRefresh. It reports
// false when the session changed while the refresh was outstanding.
func (c *Coordinator) apply(sentRefresh string, next token.Pair) bool {
	swapped, err := c.store.SwapTokens(sentRefresh, next)
	if err != nil {
		c.logger.Err(err).Msg("Failed to persist refreshed tokens")
	}
	if !swapped {
		c.logger.Debug().Msg("Session changed during refresh, discarding result")
	}
	return swapped
}

// current returns whatever session replaced the one being refreshed.
func (c *Coordinator) current() (string, error) {
	if access := c.store.AccessToken(); access != "" {
		return access, nil
	}
	return "", fmt.Errorf("%w: session ended during refresh", apperrors.ErrNoSession)
}

func (c *Coordinator) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		out = append(out, l)
	}
	return out
}

// TokenSource adapts the coordinator to oauth2.TokenSource so other HTTP
// clients can share the same session.
func (c *Coordinator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Coordinator
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	access, err := s.c.EnsureValidToken(s.ctx)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: s.c.store.RefreshToken(),
	}
	if exp, err := s.c.decoder.ExpiresAt(access); err == nil {
		tok.Expiry = exp
	}
	return tok, nil
}
