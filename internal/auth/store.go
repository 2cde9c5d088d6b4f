// Package auth manages per-user Google OAuth sessions: the consent flow,
// token persistence on disk and background token upkeep.
package auth

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"tailortalk/internal/apperr"
	"tailortalk/internal/config"
)

// ErrNoToken is returned when a user has never logged in or has logged out.
var ErrNoToken = errors.New("no stored token")

// storedToken is the on-disk record for one user.
type storedToken struct {
	User      string        `json:"user"`
	Name      string        `json:"name,omitempty"`
	Token     *oauth2.Token `json:"token"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TokenStore keeps one JSON token file per user under a directory.
type TokenStore struct {
	dir string
	mu  sync.Mutex
}

func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir}
}

func (s *TokenStore) path(user string) string {
	return filepath.Join(s.dir, config.UserFileName(user, ".json"))
}

// Load returns the stored token for user, or an AUTH_REQUIRED error
// wrapping ErrNoToken.
func (s *TokenStore) Load(user string) (*oauth2.Token, error) {
	rec, err := s.load(user)
	if err != nil {
		return nil, err
	}
	return rec.Token, nil
}

func (s *TokenStore) load(user string) (*storedToken, error) {
	if strings.TrimSpace(user) == "" {
		return nil, apperr.Wrap(ErrNoToken, apperr.CodeAuthRequired, "user identity is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(user)
}

// loadLocked reads user's record. The caller holds s.mu.
func (s *TokenStore) loadLocked(user string) (*storedToken, error) {
	data, err := os.ReadFile(s.path(user))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Wrap(ErrNoToken, apperr.CodeAuthRequired, "load token").WithContext("user", user)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorage, "read token").WithContext("user", user)
	}

	var rec storedToken
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorage, "decode token").WithContext("user", user)
	}
	if rec.Token == nil {
		return nil, apperr.Wrap(ErrNoToken, apperr.CodeAuthRequired, "empty token record").WithContext("user", user)
	}
	return &rec, nil
}

// Save writes tok for user. A refresh token already on disk is kept when
// tok carries none, since Google only issues it on first consent.
func (s *TokenStore) Save(user string, tok *oauth2.Token) error {
	return s.save(user, "", tok)
}

func (s *TokenStore) save(user, name string, tok *oauth2.Token) error {
	if strings.TrimSpace(user) == "" {
		return apperr.New(apperr.CodeInvalidInput, "user identity is empty")
	}
	if tok == nil {
		return apperr.New(apperr.CodeInvalidInput, "token is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := storedToken{User: strings.TrimSpace(user), Name: name, Token: tok}
	if prev, err := s.loadLocked(user); err == nil {
		if tok.RefreshToken == "" && prev.Token.RefreshToken != "" {
			cp := *tok
			cp.RefreshToken = prev.Token.RefreshToken
			rec.Token = &cp
		}
		if rec.Name == "" {
			rec.Name = prev.Name
		}
	}
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStorage, "encode token")
	}
	if err := config.WriteFileAtomic(s.path(user), data); err != nil {
		return apperr.Wrap(err, apperr.CodeStorage, "write token").WithContext("user", user)
	}
	return nil
}

// Delete removes user's token. Deleting a missing token is not an error.
func (s *TokenStore) Delete(user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(user)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Wrap(err, apperr.CodeStorage, "delete token").WithContext("user", user)
	}
	return nil
}

// List returns every user with a stored token, sorted.
func (s *TokenStore) List() ([]string, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorage, "list tokens")
	}

	users := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec storedToken
		if json.Unmarshal(data, &rec) != nil || rec.User == "" {
			continue
		}
		users = append(users, rec.User)
	}
	sort.Strings(users)
	return users, nil
}
