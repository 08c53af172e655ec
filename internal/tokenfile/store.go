package tokenfile

import (
	"fmt"
	"maps"
	"sync"

	"golang.org/x/oauth2"
)

// Store is the in-memory view of one token file. Reads are safe from any
// goroutine; every mutation is written through to disk before it returns.
type Store struct {
	mu   sync.RWMutex
	path string
	tok  *oauth2.Token
	meta map[string]string
}

// Open loads the token file at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	tok, meta, err := Load(path)
	if err != nil {
		return nil, err
	}

	if meta == nil {
		meta = make(map[string]string)
	}

	return &Store{path: path, tok: tok, meta: meta}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// AccessToken returns the current access token, or "" when logged out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tok == nil {
		return ""
	}

	return s.tok.AccessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tok == nil {
		return ""
	}

	return s.tok.RefreshToken
}

// Token returns a copy of the stored token, or nil.
func (s *Store) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tok == nil {
		return nil
	}

	cp := *s.tok

	return &cp
}

// SetTokens replaces the token pair and saves. An empty refresh token in tok
// keeps the previous one.
func (s *Store) SetTokens(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("tokenfile: refusing to store empty access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := *tok
	if next.RefreshToken == "" && s.tok != nil {
		next.RefreshToken = s.tok.RefreshToken
	}

	if err := Save(s.path, &next, s.meta); err != nil {
		return err
	}

	s.tok = &next

	return nil
}

// Meta returns a cached metadata value.
func (s *Store) Meta(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.meta[key]
}

// MergeMeta merges kv into the cached metadata and saves. It is a no-op while
// no token is stored.
func (s *Store) MergeMeta(kv map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := maps.Clone(s.meta)
	maps.Copy(merged, kv)

	if s.tok != nil {
		if err := Save(s.path, s.tok, merged); err != nil {
			return err
		}
	}

	s.meta = merged

	return nil
}

// Clear forgets the tokens and metadata and deletes the file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := Remove(s.path); err != nil {
		return err
	}

	s.tok = nil
	s.meta = make(map[string]string)

	return nil
}
