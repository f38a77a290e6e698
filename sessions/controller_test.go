package sessions_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-hradmin-client/authapi"
	"github.com/jrsteele09/go-hradmin-client/client"
	apperrors "github.com/jrsteele09/go-hradmin-client/internal/errors"
	"github.com/jrsteele09/go-hradmin-client/internal/testutil"
	"github.com/jrsteele09/go-hradmin-client/sessions"
	"github.com/jrsteele09/go-hradmin-client/token"
	"github.com/jrsteele09/go-hradmin-client/token/jwt"
	"github.com/jrsteele09/go-hradmin-client/token/refresh"
	tokenfakerepo "github.com/jrsteele09/go-hradmin-client/token/repofake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []sessions.Event
}

func (r *eventRecorder) record(ev sessions.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(typ sessions.EventType) []sessions.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sessions.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) states() []sessions.State {
	var out []sessions.State
	for _, ev := range r.ofType(sessions.EventStateChanged) {
		out = append(out, ev.State)
	}
	return out
}

type testFixture struct {
	backend     *testutil.Backend
	store       *tokenfakerepo.FakeTokenStore
	coordinator *refresh.Coordinator
	executor    *client.Executor
	api         *authapi.Client
	controller  *sessions.Controller
	events      *eventRecorder
}

// setupTestFixture wires the full stack against a fake backend. A non-zero
// accessExp seeds the store with a pair the backend accepts.
func setupTestFixture(t *testing.T, accessExp time.Time) *testFixture {
	t.Helper()

	backend := testutil.NewBackend(t)
	store := tokenfakerepo.NewFakeTokenStore()
	if !accessExp.IsZero() {
		access, rt := backend.Issue(accessExp)
		require.NoError(t, store.SetTokens(access, rt))
	}

	decoder := jwt.NewDecoder()
	coordinator := refresh.NewCoordinator(store, decoder,
		authapi.NewRefresher(backend.URL, authapi.WithRefresherLogger(zerolog.Nop())),
		refresh.WithLogger(zerolog.Nop()),
	)
	executor := client.NewExecutor(backend.URL, coordinator, client.WithLogger(zerolog.Nop()))
	api := authapi.NewClient(executor)

	controller, err := sessions.NewController(sessions.Deps{
		Store:         store,
		Decoder:       decoder,
		Auth:          api,
		Refreshes:     coordinator,
		Invalidations: executor,
	}, sessions.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(controller.Close)

	events := &eventRecorder{}
	t.Cleanup(controller.Subscribe(events.record))

	return &testFixture{
		backend:     backend,
		store:       store,
		coordinator: coordinator,
		executor:    executor,
		api:         api,
		controller:  controller,
		events:      events,
	}
}

func requirePaired(t *testing.T, history []token.Pair) {
	t.Helper()
	for i, p := range history {
		require.Equal(t, p.AccessToken == "", p.RefreshToken == "", "pair %d is half set: %+v", i, p)
	}
}

func TestNewController_RequiresDeps(t *testing.T) {
	_, err := sessions.NewController(sessions.Deps{})
	require.Error(t, err)

	_, err = sessions.NewController(sessions.Deps{Store: tokenfakerepo.NewFakeTokenStore()})
	require.Error(t, err)
}

func TestNewController_SeedsFromStore(t *testing.T) {
	f := setupTestFixture(t, time.Now().Add(time.Hour))

	require.Equal(t, sessions.Authenticated, f.controller.State())
	s := f.controller.Session()
	require.True(t, s.IsAuthenticated)
	require.False(t, s.IsLoading)
	require.NotNil(t, s.User)
	require.Equal(t, testutil.TestUserID, s.User.ID.String())
	require.Equal(t, "admin", s.User.Role)

	empty := setupTestFixture(t, time.Time{})
	require.Equal(t, sessions.NoSession, empty.controller.State())
	require.Equal(t, sessions.Session{}, empty.controller.Session())
}

func TestNewController_UnreadableTokenStillAuthenticated(t *testing.T) {
	store := tokenfakerepo.NewFakeTokenStoreWith("not-a-jwt", "rt")
	c, err := sessions.NewController(sessions.Deps{
		Store:   store,
		Decoder: jwt.NewDecoder(),
		Auth:    authapi.NewClient(nil),
	}, sessions.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	require.Equal(t, sessions.Authenticated, c.State())
	require.True(t, c.Session().IsAuthenticated)
	require.Nil(t, c.Session().User)
}

func TestLogin(t *testing.T) {
	f := setupTestFixture(t, time.Time{})

	err := f.controller.Login(context.Background(), authapi.LoginRequest{
		Email:    testutil.TestEmail,
		Password: testutil.TestPassword,
	})
	require.NoError(t, err)

	require.Equal(t, sessions.Authenticated, f.controller.State())
	require.True(t, f.store.IsAuthenticated())
	require.NotEmpty(t, f.store.RefreshToken())
	require.False(t, f.controller.Session().IsLoading)
	require.NotNil(t, f.controller.Session().User)

	changes := f.events.ofType(sessions.EventStateChanged)
	require.Len(t, changes, 2)
	require.True(t, changes[0].Session.IsLoading)
	require.Equal(t, sessions.NoSession, changes[0].State)
	require.Equal(t, sessions.Authenticated, changes[1].State)
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))
	requirePaired(t, f.store.History())
}

func TestLogin_BadCredentialsNavigatesWithMessage(t *testing.T) {
	f := setupTestFixture(t, time.Time{})

	err := f.controller.Login(context.Background(), authapi.LoginRequest{
		Email:    testutil.TestEmail,
		Password: "wrong-password",
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	require.ErrorIs(t, err, apperrors.ErrSessionInvalid)

	require.Zero(t, f.backend.RefreshCalls.Load())
	require.Equal(t, sessions.LoggedOut, f.controller.State())
	require.False(t, f.controller.Session().IsLoading)
	require.False(t, f.store.IsAuthenticated())

	nav := f.events.ofType(sessions.EventNavigateLogin)
	require.Len(t, nav, 1)
	require.Equal(t, client.UnauthorizedMessage, nav[0].Message)
}

func TestLogin_InvalidRequestKeepsState(t *testing.T) {
	f := setupTestFixture(t, time.Time{})

	err := f.controller.Login(context.Background(), authapi.LoginRequest{Email: "x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
	require.Equal(t, sessions.NoSession, f.controller.State())
	require.False(t, f.controller.Session().IsLoading)
	require.Zero(t, f.backend.LoginCalls.Load())
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t, time.Now().Add(time.Hour))
	rt := f.store.RefreshToken()

	require.NoError(t, f.controller.Logout(context.Background()))

	require.Equal(t, int32(1), f.backend.LogoutCalls.Load())
	require.Equal(t, sessions.LoggedOut, f.controller.State())
	require.False(t, f.store.IsAuthenticated())
	require.Empty(t, f.store.RefreshToken())
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))

	_, err := authapi.NewRefresher(f.backend.URL, authapi.WithRefresherLogger(zerolog.Nop())).
		Refresh(context.Background(), rt)
	require.Error(t, err)
	requirePaired(t, f.store.History())
}

func TestLogout_BackendFailureIgnored(t *testing.T) {
	f := setupTestFixture(t, time.Now().Add(time.Hour))
	f.backend.Handle("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"message": "down"})
	})

	require.NoError(t, f.controller.Logout(context.Background()))
	require.Equal(t, sessions.LoggedOut, f.controller.State())
	require.False(t, f.store.IsAuthenticated())
}

func TestLogout_WithoutSessionSkipsBackend(t *testing.T) {
	f := setupTestFixture(t, time.Time{})

	require.NoError(t, f.controller.Logout(context.Background()))
	require.Zero(t, f.backend.LogoutCalls.Load())
	require.Equal(t, sessions.LoggedOut, f.controller.State())
}

func TestLogout_ForcedLogoutDuringLogoutDoesNotNavigate(t *testing.T) {
	f := setupTestFixture(t, time.Now().Add(time.Hour))
	f.backend.Revoke(f.store.AccessToken())
	f.backend.Revoke(f.store.RefreshToken())

	require.NoError(t, f.controller.Logout(context.Background()))

	require.Equal(t, int32(1), f.backend.RefreshCalls.Load())
	require.Equal(t, sessions.LoggedOut, f.controller.State())
	require.False(t, f.store.IsAuthenticated())
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))
}

func TestLogout_DuringHeldRefreshStaysLoggedOut(t *testing.T) {
	f := setupTestFixture(t, time.Now().Add(time.Hour))
	f.backend.Handle("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	release := f.backend.HoldRefresh()
	t.Cleanup(release)

	type result struct {
		access string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		access, err := f.coordinator.RefreshAccessToken(context.Background())
		done <- result{access, err}
	}()
	require.Eventually(t, func() bool {
		return f.backend.RefreshCalls.Load() == 1 && f.coordinator.IsRefreshing()
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, f.controller.Logout(context.Background()))
	require.Equal(t, sessions.LoggedOut, f.controller.State())

	release()
	res := <-done
	require.ErrorIs(t, res.err, apperrors.ErrNoSession)
	require.Empty(t, res.access)

	require.False(t, f.coordinator.IsRefreshing())
	require.Equal(t, sessions.LoggedOut, f.controller.State())
	require.False(t, f.controller.Session().IsAuthenticated)
	require.False(t, f.store.IsAuthenticated())
	require.Empty(t, f.store.RefreshToken())
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))
	requirePaired(t, f.store.History())
}

func TestLogin_DuringHeldRefreshKeepsNewSession(t *testing.T) {
	f := setupTestFixture(t, time.Now().Add(time.Hour))
	release := f.backend.HoldRefresh()
	t.Cleanup(release)

	type result struct {
		access string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		access, err := f.coordinator.RefreshAccessToken(context.Background())
		done <- result{access, err}
	}()
	require.Eventually(t, func() bool {
		return f.backend.RefreshCalls.Load() == 1
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, f.controller.Login(context.Background(), authapi.LoginRequest{
		Email:    testutil.TestEmail,
		Password: testutil.TestPassword,
	}))
	loggedIn := f.store.Tokens()

	release()
	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, loggedIn.AccessToken, res.access)

	require.Equal(t, loggedIn, f.store.Tokens())
	require.Equal(t, sessions.Authenticated, f.controller.State())
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))
	requirePaired(t, f.store.History())
}

func TestLogout_ConcurrentLogoutsSuppressNavigationUntilLast(t *testing.T) {
	f := setupTestFixture(t, time.Now().Add(time.Hour))

	var entered atomic.Int32
	gates := []chan struct{}{make(chan struct{}), make(chan struct{})}
	var once [2]sync.Once
	open := func(i int) { once[i].Do(func() { close(gates[i]) }) }
	t.Cleanup(func() { open(0); open(1) })
	f.backend.Handle("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		i := entered.Add(1) - 1
		<-gates[i]
		w.WriteHeader(http.StatusNoContent)
	})

	finished := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { finished <- f.controller.Logout(context.Background()) }()
	}
	require.Eventually(t, func() bool {
		return entered.Load() == 2
	}, 5*time.Second, time.Millisecond)

	forced := &apperrors.SessionInvalidError{
		Cause:   apperrors.ErrUnauthorized,
		Message: client.UnauthorizedMessage,
	}

	open(0)
	require.NoError(t, <-finished)
	f.controller.SessionInvalidated(context.Background(), forced)
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))

	open(1)
	require.NoError(t, <-finished)
	require.Equal(t, sessions.LoggedOut, f.controller.State())
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))

	f.controller.SessionInvalidated(context.Background(), forced)
	nav := f.events.ofType(sessions.EventNavigateLogin)
	require.Len(t, nav, 1)
	require.Equal(t, client.UnauthorizedMessage, nav[0].Message)
}

func TestRefreshCycle_ExpiredTokenRefreshed(t *testing.T) {
	f := setupTestFixture(t, time.Now().Add(-time.Second))
	before := f.store.AccessToken()

	access, err := f.coordinator.EnsureValidToken(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, before, access)
	require.Equal(t, int32(1), f.backend.RefreshCalls.Load())

	exp, err := jwt.NewDecoder().ExpiresAt(access)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	require.Equal(t, []sessions.State{sessions.Refreshing, sessions.Authenticated}, f.events.states())
	require.Equal(t, sessions.Authenticated, f.controller.State())
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))
	requirePaired(t, f.store.History())
}

func TestRefreshCycle_ConcurrentFailureLogsOutOnce(t *testing.T) {
	const callers = 5
	f := setupTestFixture(t, time.Now().Add(-time.Second))
	f.backend.Revoke(f.store.RefreshToken())
	release := f.backend.HoldRefresh()

	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.executor.HitAPI(context.Background(), http.MethodGet, "/employees", nil, "", true)
		}(i)
	}
	require.Eventually(t, func() bool {
		return f.coordinator.Waiters() == callers
	}, 5*time.Second, time.Millisecond)
	release()
	wg.Wait()

	var first *apperrors.SessionInvalidError
	require.ErrorAs(t, errs[0], &first)
	for _, err := range errs {
		var sessErr *apperrors.SessionInvalidError
		require.ErrorAs(t, err, &sessErr)
		require.ErrorIs(t, err, apperrors.ErrRefresh)
		require.Same(t, first.Cause, sessErr.Cause)
	}

	require.Equal(t, int32(1), f.backend.RefreshCalls.Load())
	require.Zero(t, f.backend.APICalls.Load())
	require.False(t, f.store.IsAuthenticated())
	require.Empty(t, f.store.RefreshToken())
	require.Equal(t, sessions.LoggedOut, f.controller.State())
	require.Len(t, f.events.ofType(sessions.EventNavigateLogin), 1)
	requirePaired(t, f.store.History())
}

func TestForcedLogout_ServerRejectsRetry(t *testing.T) {
	f := setupTestFixture(t, time.Now().Add(time.Hour))
	f.backend.Handle("GET /locked", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := f.executor.HitAPI(context.Background(), http.MethodGet, "/locked", nil, "", true)
	require.ErrorIs(t, err, apperrors.ErrSessionInvalid)

	require.Equal(t, sessions.LoggedOut, f.controller.State())
	nav := f.events.ofType(sessions.EventNavigateLogin)
	require.Len(t, nav, 1)
	require.ErrorIs(t, nav[0].Err, apperrors.ErrUnauthorized)
	require.Empty(t, nav[0].Message)
}

func TestClose_StopsListening(t *testing.T) {
	f := setupTestFixture(t, time.Time{})
	f.controller.Close()
	f.controller.Close()

	_, err := f.executor.HitAPI(context.Background(), http.MethodGet, "/employees", nil, "", true)
	require.True(t, errors.Is(err, apperrors.ErrNoSession))
	require.Equal(t, sessions.NoSession, f.controller.State())
	require.Empty(t, f.events.ofType(sessions.EventNavigateLogin))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "no_session", sessions.NoSession.String())
	require.Equal(t, "authenticated", sessions.Authenticated.String())
	require.Equal(t, "refreshing", sessions.Refreshing.String())
	require.Equal(t, "logged_out", sessions.LoggedOut.String())
	require.Equal(t, "unknown", sessions.State(42).String())
	require.Equal(t, "navigate_login", sessions.EventNavigateLogin.String())
}
