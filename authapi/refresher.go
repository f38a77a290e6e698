package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-hradmin-client/internal/errors"
	"github.com/jrsteele09/go-hradmin-client/token/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const maxResponseBytes = 1 << 20

var _ refresh.Refresher = (*Refresher)(nil)

// ExpiryDecoder reads the exp claim of an access token.
type ExpiryDecoder interface {
	ExpiresAt(accessToken string) (time.Time, error)
}

// Refresher calls POST /refresh-token directly over HTTP. It deliberately
// bypasses the request executor: a refresh must never trigger another refresh.
type Refresher struct {
	baseURL    string
	httpClient *http.Client
	decoder    ExpiryDecoder
	logger     zerolog.Logger
}

type RefresherOption func(*Refresher)

func WithHTTPClient(c *http.Client) RefresherOption {
	return func(r *Refresher) {
		r.httpClient = c
	}
}

// WithExpiryDecoder fills oauth2.Token.Expiry from the new access token.
func WithExpiryDecoder(d ExpiryDecoder) RefresherOption {
	return func(r *Refresher) {
		r.decoder = d
	}
}

func WithRefresherLogger(logger zerolog.Logger) RefresherOption {
	return func(r *Refresher) {
		r.logger = logger
	}
}

func NewRefresher(baseURL string, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh exchanges refreshToken for a new pair.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	payload, err := json.Marshal(RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+RouteRefreshToken, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", http.MethodPost, RouteRefreshToken, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperrors.HTTPError{
			Method:     http.MethodPost,
			Endpoint:   RouteRefreshToken,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidResponse, err)
	}
	pair := tr.Pair()
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("%w: refresh response without access token", apperrors.ErrInvalidResponse)
	}

	tok := &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
	}
	if r.decoder != nil {
		if exp, err := r.decoder.ExpiresAt(pair.AccessToken); err == nil {
			tok.Expiry = exp
		} else {
			r.logger.Warn().Err(err).Msg("Refreshed access token has no readable expiry")
		}
	}
	return tok, nil
}
