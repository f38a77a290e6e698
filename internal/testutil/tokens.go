package testutil

import (
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-hradmin-client/token/jwt"
)

var signingKey = []byte("hradmin-test-signing-key")

var serial atomic.Int64

// MintAccessToken signs an HS256 access token for userID expiring at exp.
// Every call returns a distinct token, even for identical inputs.
func MintAccessToken(tb testing.TB, userID string, exp time.Time) string {
	tb.Helper()

	claims := jwt.Claims{
		ID:             jwt.FlexString(userID),
		Email:          userID + "@example.com",
		UserName:       userID,
		Role:           "admin",
		EmployeeName:   "Jane Doe",
		EmployeeNumber: "E-1001",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(exp),
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
			ID:        strconv.FormatInt(serial.Add(1), 10),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		tb.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// MintRefreshToken returns a unique opaque refresh token.
func MintRefreshToken() string {
	return "refresh-" + strconv.FormatInt(serial.Add(1), 10)
}
