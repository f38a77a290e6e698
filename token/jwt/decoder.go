package jwt

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-hradmin-client/internal/errors"
)

// Decoder extracts Claims from an access token without checking its
// signature. Expiry inspection is an optimisation that decides when to
// refresh; it is not a security check.
type Decoder struct {
	parser *jwtlib.Parser
}

// NewDecoder creates a new claims decoder
func NewDecoder() *Decoder {
	return &Decoder{
		parser: jwtlib.NewParser(jwtlib.WithPaddingAllowed()),
	}
}

// Decode splits the token, base64-decodes the payload and parses it as JSON.
// Any structural failure is reported as ErrDecode.
func (d *Decoder) Decode(accessToken string) (*Claims, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("%w: empty token", apperrors.ErrDecode)
	}

	claims := &Claims{}
	if _, _, err := d.parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDecode, err)
	}
	return claims, nil
}

// ExpiresAt returns the exp claim. A token without one is reported as ErrDecode.
func (d *Decoder) ExpiresAt(accessToken string) (time.Time, error) {
	claims, err := d.Decode(accessToken)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: token missing exp claim", apperrors.ErrDecode)
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether exp <= now. Tokens that cannot be decoded or
// carry no exp count as expired so callers fail toward re-authentication.
func (d *Decoder) IsExpired(accessToken string, now time.Time) bool {
	exp, err := d.ExpiresAt(accessToken)
	if err != nil {
		return true
	}
	return now.Unix() >= exp.Unix()
}
