package token

// Pair is the access/refresh token pair, persisted under the accessToken and
// refreshToken keys. The two are always set and cleared together; a pair with
// only one side present is treated as empty.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether the pair holds no usable session.
func (p Pair) Empty() bool {
	return p.AccessToken == "" || p.RefreshToken == ""
}

// Normalize returns p unchanged when both tokens are present and an empty
// pair otherwise.
func (p Pair) Normalize() Pair {
	if p.Empty() {
		return Pair{}
	}
	return p
}

// Store is the single source of truth for "is there a session". Writers are
// the refresh coordinator (refresh) and the session controller (login/logout).
// Readers never observe a half-written pair.
type Store interface {
	SetTokens(accessToken, refreshToken string) error
	// SwapTokens replaces the stored pair with next only while the store
	// still holds expectedRefresh. An empty next clears the session.
	SwapTokens(expectedRefresh string, next Pair) (swapped bool, err error)
	ClearTokens() error
	Tokens() Pair
	AccessToken() string
	RefreshToken() string
	IsAuthenticated() bool
}
