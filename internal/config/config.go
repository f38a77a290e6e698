package config

import (
	"time"

	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	ClientConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type ClientConfig interface {
	GetBaseURL() string
	GetTokenFile() string
	GetTokenKey() ([]byte, error)
	GetHTTPTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
	Client
}

// New loads an optional .env file from the working directory and returns
// the environment backed configuration.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}

// NewFromFiles is New with explicit .env files. Missing files are an error.
func NewFromFiles(filenames ...string) (Config, error) {
	if err := godotenv.Load(filenames...); err != nil {
		return nil, err
	}
	return mainConfig{}, nil
}
