package authapi

import (
	"github.com/jrsteele09/go-hradmin-client/token"
)

// Route path constants for the auth endpoints of the HR backend
const (
	RouteLogin          = "/login"
	RouteLogout         = "/logout"
	RouteRefreshToken   = "/refresh-token"
	RouteUpdatePassword = "/update-password"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

// RefreshRequest is the body of POST /refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// LogoutRequest is the body of POST /logout. The backend revokes the
// refresh token it carries.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// UpdatePasswordRequest is the body of PUT /update-password.
type UpdatePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=256,nefield=OldPassword"`
}

// TokenResponse is returned by /login and /refresh-token.
// Some backend versions wrap the pair in a "data" envelope; both are accepted.
type TokenResponse struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	Data         *TokenResponse `json:"data,omitempty"`
}

// Pair returns the token pair carried by the response, looking inside the
// data envelope when the top level is empty.
func (r TokenResponse) Pair() token.Pair {
	if r.AccessToken == "" && r.Data != nil {
		return r.Data.Pair()
	}
	return token.Pair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// MessageResponse is the generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}
