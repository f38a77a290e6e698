package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-hradmin-client/internal/errors"
	"github.com/jrsteele09/go-hradmin-client/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultContentType = "application/json"
	HeaderRequestID    = "X-Request-ID"

	// UnauthorizedMessage is shown when a call that needs no session is rejected.
	UnauthorizedMessage = "Session expired or invalid credentials. Please log in again."

	maxResponseBytes = 10 << 20
)

// TokenProvider is the slice of the refresh coordinator the executor needs.
type TokenProvider interface {
	EnsureValidToken(ctx context.Context) (string, error)
	RefreshIfStale(ctx context.Context, staleAccess string) (string, error)
	Invalidate()
}

// SessionInvalidHandler is told when a call ends in a forced logout. The
// tokens have already been cleared when it runs.
type SessionInvalidHandler interface {
	SessionInvalidated(ctx context.Context, err *apperrors.SessionInvalidError)
}

// Executor performs every backend call: it attaches the bearer token,
// refreshes it when needed and retries once on 401.
type Executor struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	mu          sync.Mutex
	handlers    map[int]SessionInvalidHandler
	nextHandler int
}

type Option func(*Executor)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		e.httpClient = c
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func NewExecutor(baseURL string, tokens TokenProvider, opts ...Option) *Executor {
	e := &Executor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		tokens:     tokens,
		logger:     log.Logger,
		handlers:   make(map[int]SessionInvalidHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers h for forced logout notifications until the returned func is called.
func (e *Executor) Subscribe(h SessionInvalidHandler) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextHandler
	e.nextHandler++
	e.handlers[id] = h
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			e.mu.Unlock()
		})
	}
}

// HitAPI sends body to endpoint and returns the response body.
//
// body may be nil, []byte, string, json.RawMessage or an io.Reader (all sent
// verbatim) or any other value, which is JSON encoded. contentType defaults
// to application/json. When requireAuth is set a valid access token is
// attached, and a 401 triggers exactly one refresh and one retry.
//
// Unrecoverable auth failures clear the session and return a
// *errors.SessionInvalidError. Other failures are returned unchanged.
func (e *Executor) HitAPI(ctx context.Context, method, endpoint string, body any, contentType string, requireAuth bool) ([]byte, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidRequest, err)
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	rc := &call{
		method:      method,
		endpoint:    endpoint,
		payload:     payload,
		contentType: contentType,
		requestID:   uuid.NewString(),
	}
	logger := e.logger.With().
		Str("request_id", rc.requestID).
		Str("method", method).
		Str("endpoint", endpoint).
		Logger()

	if requireAuth {
		rc.accessToken, err = e.tokens.EnsureValidToken(ctx)
		if err != nil {
			if isContextErr(ctx, err) {
				return nil, err
			}
			return nil, e.forceLogout(ctx, logger, err, "", "token_unavailable")
		}
	}

	data, err := e.do(ctx, rc)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		return nil, err
	}

	if !requireAuth {
		return nil, e.forceLogout(ctx, logger, err, UnauthorizedMessage, "unauthorized")
	}

	logger.Warn().Msg("Request unauthorized, refreshing token and retrying once")
	e.metrics.Retry()

	rc.accessToken, err = e.tokens.RefreshIfStale(ctx, rc.accessToken)
	if err != nil {
		if isContextErr(ctx, err) {
			return nil, err
		}
		return nil, e.forceLogout(ctx, logger, err, "", "refresh_failed")
	}

	data, err = e.do(ctx, rc)
	if err != nil {
		if !errors.Is(err, apperrors.ErrUnauthorized) {
			return nil, err
		}
		return nil, e.forceLogout(ctx, logger, err, "", "retry_failed")
	}
	return data, nil
}

type call struct {
	method      string
	endpoint    string
	payload     []byte
	contentType string
	requestID   string
	accessToken string
}

func (e *Executor) do(ctx context.Context, c *call) ([]byte, error) {
	var body io.Reader
	if c.payload != nil {
		body = bytes.NewReader(c.payload)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, e.url(c.endpoint), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", c.contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, c.requestID)
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.metrics.Request(c.method, 0)
		return nil, fmt.Errorf("%s %s: %w", c.method, c.endpoint, err)
	}
	defer resp.Body.Close()
	e.metrics.Request(c.method, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", c.method, c.endpoint, err)
	}

	e.logger.Debug().
		Str("request_id", c.requestID).
		Str("method", c.method).
		Str("endpoint", c.endpoint).
		Int("status", resp.StatusCode).
		Msg("Backend call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperrors.HTTPError{
			Method:     c.method,
			Endpoint:   c.endpoint,
			StatusCode: resp.StatusCode,
			Body:       data,
		}
	}
	return data, nil
}

func (e *Executor) forceLogout(ctx context.Context, logger zerolog.Logger, cause error, message, reason string) error {
	e.tokens.Invalidate()
	e.metrics.ForcedLogout(reason)
	logger.Err(cause).Str("reason", reason).Msg("Session invalid, forcing logout")

	sessErr := &apperrors.SessionInvalidError{Cause: cause, Message: message}

	e.mu.Lock()
	handlers := make([]SessionInvalidHandler, 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h.SessionInvalidated(ctx, sessErr)
	}
	return sessErr
}

func (e *Executor) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return e.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	case io.Reader:
		return io.ReadAll(b)
	default:
		return json.Marshal(b)
	}
}

func isContextErr(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
