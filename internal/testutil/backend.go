package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	TestEmail    = "admin@example.com"
	TestPassword = "password123"
	TestUserID   = "42"
)

// Backend is a fake HR REST backend. It issues rotating token pairs, rejects
// unknown or revoked bearer tokens with 401 and counts calls per endpoint.
type Backend struct {
	*httptest.Server
	tb testing.TB

	AccessTTL time.Duration

	mu       sync.Mutex
	access   map[string]bool // access token -> still accepted
	refresh  map[string]bool // refresh token -> still accepted
	handlers map[string]http.HandlerFunc
	gate     chan struct{}

	LoginCalls    atomic.Int32
	LogoutCalls   atomic.Int32
	RefreshCalls  atomic.Int32
	PasswordCalls atomic.Int32
	APICalls      atomic.Int32

	lastAuth atomic.Value
}

// NewBackend starts a Backend that is closed when the test ends.
func NewBackend(tb testing.TB) *Backend {
	tb.Helper()

	b := &Backend{
		tb:        tb,
		AccessTTL: time.Hour,
		access:    make(map[string]bool),
		refresh:   make(map[string]bool),
		handlers:  make(map[string]http.HandlerFunc),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", chain(b.handleLogin, counting(&b.LoginCalls)))
	mux.HandleFunc("POST /logout", chain(b.handleLogout, counting(&b.LogoutCalls), b.requireAuth))
	mux.HandleFunc("POST /refresh-token", chain(b.handleRefresh, counting(&b.RefreshCalls)))
	mux.HandleFunc("PUT /update-password", chain(b.handleUpdatePassword, counting(&b.PasswordCalls), b.requireAuth))
	mux.HandleFunc("/", chain(b.handleAPI, counting(&b.APICalls), b.recordAuth, b.requireAuth))

	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		h, ok := b.handlers[r.Method+" "+r.URL.Path]
		b.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	tb.Cleanup(b.Server.Close)
	return b
}

// Handle overrides the handler for "METHOD /path".
func (b *Backend) Handle(pattern string, h http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[pattern] = h
}

// Issue creates a token pair the backend accepts, expiring at exp.
func (b *Backend) Issue(exp time.Time) (accessToken, refreshToken string) {
	accessToken = MintAccessToken(b.tb, TestUserID, exp)
	refreshToken = MintRefreshToken()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.access[accessToken] = true
	b.refresh[refreshToken] = true
	return accessToken, refreshToken
}

// Revoke makes the backend reject token from now on, whether it is an
// access or a refresh token.
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.access[token]; ok {
		b.access[token] = false
	}
	if _, ok := b.refresh[token]; ok {
		b.refresh[token] = false
	}
}

// HoldRefresh makes /refresh-token block until the returned func is called.
func (b *Backend) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// LastAuthorization returns the Authorization header of the latest API call.
func (b *Backend) LastAuthorization() string {
	v, _ := b.lastAuth.Load().(string)
	return v
}

// chain wraps h so that mw[0] runs first.
func chain(h http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

func counting(n *atomic.Int32) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			n.Add(1)
			next(w, r)
		}
	}
}

func (b *Backend) recordAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.lastAuth.Store(r.Header.Get("Authorization"))
		next(w, r)
	}
}

// requireAuth rejects requests without a bearer token the backend issued
// and has not revoked.
func (b *Backend) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (b *Backend) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.access[parts[1]]
}

func (b *Backend) issueResponse(w http.ResponseWriter) {
	access, refresh := b.Issue(time.Now().Add(b.AccessTTL))
	WriteJSON(w, http.StatusOK, map[string]string{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"message": "bad request"})
		return
	}
	if req.Email != TestEmail || req.Password != TestPassword {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}
	b.issueResponse(w)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"message": "bad request"})
		return
	}

	b.mu.Lock()
	ok := b.refresh[req.RefreshToken]
	if ok {
		b.refresh[req.RefreshToken] = false
	}
	b.mu.Unlock()

	if !ok {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid refresh token"})
		return
	}
	b.issueResponse(w)
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.Revoke(req.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (b *Backend) handleAPI(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path, "method": r.Method})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
