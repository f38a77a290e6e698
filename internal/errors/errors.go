package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the HR admin client
var (
	// Session errors
	ErrNoSession      = errors.New("no session")
	ErrSessionInvalid = errors.New("session invalid")

	// Token errors
	ErrDecode  = errors.New("malformed access token")
	ErrRefresh = errors.New("token refresh failed")

	// Request errors
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidResponse    = errors.New("invalid response")
)

// HTTPError is returned when the backend answers with a non-2xx status.
type HTTPError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401 response.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// SessionInvalidError reports that the session could not be recovered and
// the tokens have been cleared. Message, when set, is meant for the user.
type SessionInvalidError struct {
	Cause   error
	Message string
}

func (e *SessionInvalidError) Error() string {
	if e.Cause == nil {
		return ErrSessionInvalid.Error()
	}
	return fmt.Sprintf("%s: %v", ErrSessionInvalid, e.Cause)
}

func (e *SessionInvalidError) Unwrap() error {
	return e.Cause
}

func (e *SessionInvalidError) Is(target error) bool {
	return target == ErrSessionInvalid
}

// StatusCode returns the HTTP status carried by err, or 0 if there is none.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
