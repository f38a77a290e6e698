package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/go-hradmin-client/internal/errors"
	"github.com/jrsteele09/go-hradmin-client/token"
)

// Doer is the request execution interface every caller goes through.
type Doer interface {
	HitAPI(ctx context.Context, method, endpoint string, body any, contentType string, requireAuth bool) ([]byte, error)
}

// Client wraps the auth endpoints and generic reads with typed helpers.
type Client struct {
	doer Doer
}

func NewClient(doer Doer) *Client {
	return &Client{doer: doer}
}

// Login posts the credentials without authentication and returns the issued
// pair. Both tokens must be present.
func (c *Client) Login(ctx context.Context, req LoginRequest) (token.Pair, error) {
	if err := Validate(req); err != nil {
		return token.Pair{}, err
	}

	data, err := c.doer.HitAPI(ctx, http.MethodPost, RouteLogin, req, "", false)
	if err != nil {
		return token.Pair{}, err
	}

	var tr TokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return token.Pair{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidResponse, err)
	}
	pair := tr.Pair()
	if pair.Empty() {
		return token.Pair{}, fmt.Errorf("%w: login response must carry both tokens", apperrors.ErrInvalidResponse)
	}
	return pair, nil
}

// Logout asks the backend to revoke refreshToken.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	_, err := c.doer.HitAPI(ctx, http.MethodPost, RouteLogout, LogoutRequest{RefreshToken: refreshToken}, "", true)
	return err
}

// UpdatePassword changes the logged in user's password.
func (c *Client) UpdatePassword(ctx context.Context, req UpdatePasswordRequest) (*MessageResponse, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	data, err := c.doer.HitAPI(ctx, http.MethodPut, RouteUpdatePassword, req, "", true)
	if err != nil {
		return nil, err
	}

	resp := &MessageResponse{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, resp); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidResponse, err)
		}
	}
	return resp, nil
}

// Get performs an authenticated GET and decodes the JSON body into out.
// A nil out discards the body.
func (c *Client) Get(ctx context.Context, endpoint string, out any) error {
	data, err := c.doer.HitAPI(ctx, http.MethodGet, endpoint, nil, "", true)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidResponse, err)
	}
	return nil
}
