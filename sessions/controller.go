package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-hradmin-client/authapi"
	"github.com/jrsteele09/go-hradmin-client/client"
	apperrors "github.com/jrsteele09/go-hradmin-client/internal/errors"
	"github.com/jrsteele09/go-hradmin-client/token"
	"github.com/jrsteele09/go-hradmin-client/token/jwt"
	"github.com/jrsteele09/go-hradmin-client/token/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	_ refresh.Listener             = (*Controller)(nil)
	_ client.SessionInvalidHandler = (*Controller)(nil)
)

// Authenticator performs the login and logout calls.
type Authenticator interface {
	Login(ctx context.Context, req authapi.LoginRequest) (token.Pair, error)
	Logout(ctx context.Context, refreshToken string) error
}

// ClaimsDecoder reads the claims of an access token.
type ClaimsDecoder interface {
	Decode(accessToken string) (*jwt.Claims, error)
}

// RefreshNotifier reports refresh cycles, normally the refresh.Coordinator.
type RefreshNotifier interface {
	Subscribe(l refresh.Listener) (unsubscribe func())
}

// InvalidationNotifier reports forced logouts, normally the client.Executor.
type InvalidationNotifier interface {
	Subscribe(h client.SessionInvalidHandler) (unsubscribe func())
}

// Deps holds everything the Controller works with.
type Deps struct {
	Store         token.Store          // Token persistence
	Decoder       ClaimsDecoder        // Builds Session.User
	Auth          Authenticator        // Login/logout endpoints
	Refreshes     RefreshNotifier      // Optional
	Invalidations InvalidationNotifier // Optional
}

// Controller turns login, logout, refresh and forced logout outcomes into
// session state transitions and navigation events.
type Controller struct {
	deps   Deps
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	session    Session
	loggingOut int
	subs       map[int]func(Event)
	nextSub    int

	unsubscribe []func()
	closeOnce   sync.Once
}

type Option func(*Controller)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController seeds the session from the store and subscribes to the
// refresh and forced logout notifiers. Close releases the subscriptions.
func NewController(deps Deps, opts ...Option) (*Controller, error) {
	if deps.Store == nil {
		return nil, errors.New("[NewController] Store is required")
	}
	if deps.Decoder == nil {
		return nil, errors.New("[NewController] Decoder is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("[NewController] Auth is required")
	}

	c := &Controller{
		deps:   deps,
		logger: log.Logger,
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.session = c.buildSession()
	if c.session.IsAuthenticated {
		c.state = Authenticated
	}

	if deps.Refreshes != nil {
		c.unsubscribe = append(c.unsubscribe, deps.Refreshes.Subscribe(c))
	}
	if deps.Invalidations != nil {
		c.unsubscribe = append(c.unsubscribe, deps.Invalidations.Subscribe(c))
	}
	return c, nil
}

// Close stops listening to the notifiers. It is safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		for _, unsubscribe := range c.unsubscribe {
			unsubscribe()
		}
	})
}

func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for controller events until the returned func is called.
// fn is called outside the controller lock and may call back into it.
func (c *Controller) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Login exchanges credentials for a token pair and stores it.
func (c *Controller) Login(ctx context.Context, req authapi.LoginRequest) error {
	c.transition(nil, func() (State, bool) {
		c.session.IsLoading = true
		return c.state, true
	})

	pair, err := c.deps.Auth.Login(ctx, req)
	if err == nil {
		err = c.deps.Store.SetTokens(pair.AccessToken, pair.RefreshToken)
	}
	if err != nil {
		c.transition(err, func() (State, bool) {
			c.session = c.buildSession()
			return c.state, true
		})
		if errors.Is(err, apperrors.ErrUnauthorized) {
			return fmt.Errorf("%w: %w", apperrors.ErrInvalidCredentials, err)
		}
		return err
	}

	c.transition(nil, func() (State, bool) {
		c.session = c.buildSession()
		return Authenticated, true
	})
	c.logger.Info().Str("user", c.userName()).Msg("Logged in")
	return nil
}

// Logout revokes the refresh token at the backend when possible, then always
// clears the stored tokens. Only a failure to clear the store is returned.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.loggingOut++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loggingOut--
		c.mu.Unlock()
	}()

	if rt := c.deps.Store.RefreshToken(); rt != "" && c.deps.Store.IsAuthenticated() {
		if err := c.deps.Auth.Logout(ctx, rt); err != nil {
			c.logger.Warn().Err(err).Msg("Logout call failed, clearing session anyway")
		}
	}

	err := c.deps.Store.ClearTokens()
	c.transition(err, func() (State, bool) {
		c.session = Session{}
		return LoggedOut, true
	})
	if err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	c.logger.Info().Msg("Logged out")
	return nil
}

// SessionInvalidated handles a forced logout reported by the executor.
func (c *Controller) SessionInvalidated(_ context.Context, sessErr *apperrors.SessionInvalidError) {
	c.forceLogout(sessErr, sessErr.Message)
}

func (c *Controller) RefreshStarted() {
	c.transition(nil, func() (State, bool) {
		if c.state != Authenticated {
			return c.state, false
		}
		return Refreshing, true
	})
}

func (c *Controller) RefreshFinished(err error) {
	if err != nil {
		c.forceLogout(err, "")
		return
	}
	c.transition(nil, func() (State, bool) {
		c.session = c.buildSession()
		if !c.session.IsAuthenticated {
			return c.state, true
		}
		return Authenticated, true
	})
}

// forceLogout clears the session and asks for the login screen. A failure
// that is already reflected in a LoggedOut state is not announced twice
// unless it carries a message.
func (c *Controller) forceLogout(cause error, message string) {
	if err := c.deps.Store.ClearTokens(); err != nil {
		c.logger.Err(err).Msg("Failed to clear stored tokens")
	}

	c.mu.Lock()
	prev := c.state
	suppress := c.loggingOut > 0 || (prev == LoggedOut && message == "")
	c.state = LoggedOut
	c.session = Session{}
	events := []Event{c.event(EventStateChanged, cause, "")}
	if !suppress {
		events = append(events, c.event(EventNavigateLogin, cause, message))
	}
	subs := c.snapshotSubs()
	c.mu.Unlock()

	if !suppress {
		c.logger.Warn().Err(cause).Str("from", prev.String()).Msg("Session ended, login required")
	}
	c.publish(subs, events...)
}

// transition applies fn under the lock and publishes EventStateChanged when
// fn reports a change.
func (c *Controller) transition(err error, fn func() (next State, changed bool)) {
	c.mu.Lock()
	next, changed := fn()
	c.state = next
	ev := c.event(EventStateChanged, err, "")
	subs := c.snapshotSubs()
	c.mu.Unlock()

	if changed {
		c.publish(subs, ev)
	}
}

// event must be called with c.mu held.
func (c *Controller) event(typ EventType, err error, message string) Event {
	return Event{
		Type:    typ,
		State:   c.state,
		Session: c.session,
		Message: message,
		Err:     err,
	}
}

// snapshotSubs must be called with c.mu held.
func (c *Controller) snapshotSubs() []func(Event) {
	subs := make([]func(Event), 0, len(c.subs))
	for id := 0; id < c.nextSub; id++ {
		if fn, ok := c.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func (c *Controller) publish(subs []func(Event), events ...Event) {
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func (c *Controller) buildSession() Session {
	access := c.deps.Store.AccessToken()
	if access == "" {
		return Session{}
	}
	s := Session{IsAuthenticated: true}
	claims, err := c.deps.Decoder.Decode(access)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Stored access token has unreadable claims")
		return s
	}
	s.User = claims
	return s
}

func (c *Controller) userName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.User == nil {
		return ""
	}
	return c.session.User.UserName
}
