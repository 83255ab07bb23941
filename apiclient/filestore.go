package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/oauth2"
)

// StoredToken is the on-disk form of a session token.
type StoredToken struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   time.Time       `json:"expires_at,omitzero"`
	User        json.RawMessage `json:"user,omitempty"`
	ServerURL   string          `json:"server_url"`
}

// storedTokenMap keeps one session per server in a single file.
type storedTokenMap struct {
	Tokens map[string]*StoredToken `json:"tokens"`
}

// FileStore is a Mirror backed by a JSON token file shared between processes.
type FileStore struct {
	path string
	key  string
}

var _ Mirror = (*FileStore)(nil)

// NewFileStore stores the session for server key in the file at path.
func NewFileStore(path, key string) *FileStore {
	return &FileStore{path: path, key: key}
}

// Path returns the token file location.
func (f *FileStore) Path() string { return f.path }

// Load returns the stored token for this server, or nil when none is stored.
func (f *FileStore) Load() (*oauth2.Token, error) {
	m, err := f.read()
	if err != nil {
		return nil, err
	}
	st, ok := m.Tokens[f.key]
	if !ok || st.AccessToken == "" {
		return nil, nil
	}

	tok := &oauth2.Token{
		AccessToken: st.AccessToken,
		TokenType:   st.TokenType,
		Expiry:      st.ExpiresAt,
	}
	if len(st.User) > 0 {
		var user any
		if err := json.Unmarshal(st.User, &user); err == nil {
			tok = tok.WithExtra(map[string]any{"user": user})
		}
	}
	return tok, nil
}

// Save writes tok for this server, preserving sessions of other servers.
func (f *FileStore) Save(tok *oauth2.Token) error {
	st := &StoredToken{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		ExpiresAt:   tok.Expiry,
		ServerURL:   f.key,
	}
	if user := tok.Extra("user"); user != nil {
		raw, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to encode user: %w", err)
		}
		st.User = raw
	}

	return f.update(func(m *storedTokenMap) { m.Tokens[f.key] = st })
}

// Clear removes this server's session from the file.
func (f *FileStore) Clear() error {
	return f.update(func(m *storedTokenMap) { delete(m.Tokens, f.key) })
}

func (f *FileStore) read() (*storedTokenMap, error) {
	m := &storedTokenMap{Tokens: make(map[string]*StoredToken)}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if m.Tokens == nil {
		m.Tokens = make(map[string]*StoredToken)
	}
	return m, nil
}

// update applies fn to the token map under the file lock and writes it back atomically.
func (f *FileStore) update(fn func(*storedTokenMap)) (err error) {
	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil && err == nil {
			err = fmt.Errorf("failed to release lock: %w", releaseErr)
		}
	}()

	m, readErr := f.read()
	if readErr != nil {
		// Corrupt files are overwritten.
		m = &storedTokenMap{Tokens: make(map[string]*StoredToken)}
	}
	fn(m)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
