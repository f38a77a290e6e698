package filestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-hradmin-client/token"
	"github.com/jrsteele09/go-hradmin-client/token/keys"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	nonceSize = 24
	fileMode  = 0o600
	dirMode   = 0o700
)

var _ token.Store = (*FileStore)(nil)

// FileStore persists the token pair as a small JSON document. The in-memory
// copy is the one readers see; every mutation is followed by a full rewrite
// of the file through a temp file and rename, so the file never holds half a
// pair either.
type FileStore struct {
	path   string
	key    *[keys.Size]byte
	logger zerolog.Logger
	optErr error

	mu   sync.RWMutex
	pair token.Pair
}

// envelope is the on-disk format. Plain files carry the two tokens under
// their storage keys, encrypted files carry a single sealed blob.
type envelope struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Sealed       []byte `json:"sealed,omitempty"`
}

type Option func(*FileStore)

// WithEncryptionKey seals the file with NaCl secretbox. New fails unless key
// is exactly keys.Size bytes.
func WithEncryptionKey(key []byte) Option {
	return func(s *FileStore) {
		if len(key) != keys.Size {
			s.optErr = fmt.Errorf("filestore: encryption key must be %d bytes, got %d", keys.Size, len(key))
			return
		}
		var k [keys.Size]byte
		copy(k[:], key)
		s.key = &k
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// New opens the store at path and loads any tokens already persisted there.
// A file that cannot be read back (corrupt, wrong key, half a pair) starts
// the store empty, forcing a fresh login.
func New(path string, opts ...Option) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("filestore: path is required")
	}
	s := &FileStore{path: path, logger: log.Logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.optErr != nil {
		return nil, s.optErr
	}

	pair, err := s.load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", path).Msg("Discarding unreadable token file")
		}
		pair = token.Pair{}
	}
	s.pair = pair.Normalize()
	return s, nil
}

func (s *FileStore) SetTokens(accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = token.Pair{AccessToken: accessToken, RefreshToken: refreshToken}.Normalize()
	if s.pair.Empty() {
		return s.remove()
	}
	return s.write(s.pair)
}

func (s *FileStore) SwapTokens(expectedRefresh string, next token.Pair) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pair.RefreshToken != expectedRefresh {
		return false, nil
	}
	s.pair = next.Normalize()
	if s.pair.Empty() {
		return true, s.remove()
	}
	return true, s.write(s.pair)
}

func (s *FileStore) ClearTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = token.Pair{}
	return s.remove()
}

func (s *FileStore) Tokens() token.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

func (s *FileStore) AccessToken() string {
	return s.Tokens().AccessToken
}

func (s *FileStore) RefreshToken() string {
	return s.Tokens().RefreshToken
}

func (s *FileStore) IsAuthenticated() bool {
	return s.AccessToken() != ""
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() (token.Pair, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return token.Pair{}, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return token.Pair{}, fmt.Errorf("filestore: decode %s: %w", s.path, err)
	}

	if env.Sealed == nil {
		if s.key != nil {
			return token.Pair{}, errors.New("filestore: expected an encrypted token file")
		}
		return token.Pair{AccessToken: env.AccessToken, RefreshToken: env.RefreshToken}, nil
	}

	if s.key == nil {
		return token.Pair{}, errors.New("filestore: token file is encrypted but no key is configured")
	}
	if len(env.Sealed) < nonceSize {
		return token.Pair{}, errors.New("filestore: sealed payload too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], env.Sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, env.Sealed[nonceSize:], &nonce, s.key)
	if !ok {
		return token.Pair{}, errors.New("filestore: cannot decrypt token file")
	}

	var pair token.Pair
	if err := json.Unmarshal(plain, &pair); err != nil {
		return token.Pair{}, fmt.Errorf("filestore: decode sealed payload: %w", err)
	}
	return pair, nil
}

func (s *FileStore) write(pair token.Pair) error {
	env := envelope{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
	if s.key != nil {
		sealed, err := s.seal(pair)
		if err != nil {
			return err
		}
		env = envelope{Sealed: sealed}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("filestore: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}

func (s *FileStore) seal(pair token.Pair) ([]byte, error) {
	plain, err := json.Marshal(pair)
	if err != nil {
		return nil, fmt.Errorf("filestore: encode: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("filestore: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key), nil
}

func (s *FileStore) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filestore: remove: %w", err)
	}
	return nil
}
