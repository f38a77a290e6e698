package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/go-hradmin-client/token/keys"
)

const (
	baseURLVar     = "HRADMIN_BASE_URL"
	tokenFileVar   = "HRADMIN_TOKEN_FILE"
	tokenKeyVar    = "HRADMIN_TOKEN_KEY"
	httpTimeoutVar = "HRADMIN_HTTP_TIMEOUT"
)

type Client struct{}

var _ ClientConfig = Client{}

// GetBaseURL returns the backend root without a trailing slash (e.g., "https://hr.example.com/api")
func (Client) GetBaseURL() string {
	return strings.TrimRight(GetEnv(baseURLVar, "http://localhost:8080"), "/")
}

// GetTokenFile returns where the access/refresh token pair is persisted.
func (Client) GetTokenFile() string {
	if path := os.Getenv(tokenFileVar); path != "" {
		return path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".hradmin", "tokens.json")
	}
	return filepath.Join(dir, "hradmin", "tokens.json")
}

// GetTokenKey returns the hex encoded key used to encrypt the token file.
// A nil key with a nil error means the file is stored in plain text.
func (Client) GetTokenKey() ([]byte, error) {
	raw := os.Getenv(tokenKeyVar)
	if raw == "" {
		return nil, nil
	}
	key, err := keys.ParseHex(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tokenKeyVar, err)
	}
	return key.Bytes(), nil
}

func (Client) GetHTTPTimeout() time.Duration {
	d, err := time.ParseDuration(GetEnv(httpTimeoutVar, "30s"))
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
