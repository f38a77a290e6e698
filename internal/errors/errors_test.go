package errors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	apperrors "github.com/jrsteele09/go-hradmin-client/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestHTTPError(t *testing.T) {
	unauthorized := &apperrors.HTTPError{Method: "GET", Endpoint: "/x", StatusCode: http.StatusUnauthorized}
	require.ErrorIs(t, unauthorized, apperrors.ErrUnauthorized)
	require.Equal(t, "GET /x: 401 Unauthorized", unauthorized.Error())

	serverErr := &apperrors.HTTPError{Method: "PUT", Endpoint: "/y", StatusCode: 500, Body: []byte("boom")}
	require.NotErrorIs(t, serverErr, apperrors.ErrUnauthorized)
	require.Equal(t, "PUT /y: 500 Internal Server Error: boom", serverErr.Error())

	wrapped := fmt.Errorf("call failed: %w", serverErr)
	require.Equal(t, 500, apperrors.StatusCode(wrapped))
	require.Zero(t, apperrors.StatusCode(errors.New("plain")))
}

func TestSessionInvalidError(t *testing.T) {
	cause := &apperrors.HTTPError{Method: "GET", Endpoint: "/x", StatusCode: http.StatusUnauthorized}
	err := error(&apperrors.SessionInvalidError{Cause: cause, Message: "log in again"})

	require.ErrorIs(t, err, apperrors.ErrSessionInvalid)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	require.Equal(t, http.StatusUnauthorized, apperrors.StatusCode(err))
	require.Contains(t, err.Error(), "session invalid: GET /x: 401")

	var sessErr *apperrors.SessionInvalidError
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, "log in again", sessErr.Message)

	require.Equal(t, "session invalid", (&apperrors.SessionInvalidError{}).Error())
}

func TestWrapf(t *testing.T) {
	require.NoError(t, apperrors.Wrapf(nil, "ignored"))

	err := apperrors.Wrapf(apperrors.ErrDecode, "token %d", 3)
	require.EqualError(t, err, "token 3: malformed access token")
	require.ErrorIs(t, err, apperrors.ErrDecode)
}
