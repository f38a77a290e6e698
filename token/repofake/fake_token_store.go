package tokenfakerepo

import (
	"sync"

	"github.com/jrsteele09/go-hradmin-client/token"
)

var _ token.Store = (*FakeTokenStore)(nil)

// FakeTokenStore is an in-memory token.Store. It also records every pair it
// has held so tests can assert the pairing invariant across transitions.
type FakeTokenStore struct {
	pair    token.Pair
	history []token.Pair
	lock    sync.RWMutex
}

func NewFakeTokenStore() *FakeTokenStore {
	return &FakeTokenStore{}
}

// NewFakeTokenStoreWith returns a store already holding a session.
func NewFakeTokenStoreWith(accessToken, refreshToken string) *FakeTokenStore {
	s := &FakeTokenStore{}
	_ = s.SetTokens(accessToken, refreshToken)
	return s
}

func (s *FakeTokenStore) SetTokens(accessToken, refreshToken string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.pair = token.Pair{AccessToken: accessToken, RefreshToken: refreshToken}.Normalize()
	s.history = append(s.history, s.pair)
	return nil
}

func (s *FakeTokenStore) SwapTokens(expectedRefresh string, next token.Pair) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.pair.RefreshToken != expectedRefresh {
		return false, nil
	}
	s.pair = next.Normalize()
	s.history = append(s.history, s.pair)
	return true, nil
}

func (s *FakeTokenStore) ClearTokens() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.pair = token.Pair{}
	s.history = append(s.history, s.pair)
	return nil
}

func (s *FakeTokenStore) Tokens() token.Pair {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.pair
}

func (s *FakeTokenStore) AccessToken() string {
	return s.Tokens().AccessToken
}

func (s *FakeTokenStore) RefreshToken() string {
	return s.Tokens().RefreshToken
}

func (s *FakeTokenStore) IsAuthenticated() bool {
	return s.AccessToken() != ""
}

// History returns every pair written, oldest first.
func (s *FakeTokenStore) History() []token.Pair {
	s.lock.RLock()
	defer s.lock.RUnlock()

	out := make([]token.Pair, len(s.history))
	copy(out, s.history)
	return out
}
