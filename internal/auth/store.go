// Package auth issues and validates long-lived bearer tokens from one-time
// credentials.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Credential is a username's one-time-password secret.
type Credential struct {
	OTP string `json:"otp"`
}

// TokenRecord is the persisted state of an issued token.
type TokenRecord struct {
	Username string    `json:"username"`
	Expiry   time.Time `json:"expiry"`
}

// fileState is the single persisted document: all users and all tokens.
// It is read wholesale at startup and rewritten wholesale on every mutation.
type fileState struct {
	Users  map[string]Credential  `json:"users"`
	Tokens map[string]TokenRecord `json:"tokens"`
}

// FileStore persists credentials and tokens in one JSON file.
//
// The file is process-wide shared mutable state touched by every
// authentication and validation call, so every read-modify-write cycle runs
// under one mutex and rewrites go through a temp file and rename. Lost
// updates between concurrent authentications cannot happen within a single
// process; multi-instance deployments are out of scope.
type FileStore struct {
	path string

	mu    sync.Mutex
	state fileState
}

// NewFileStore loads the store from path. A missing file starts the store
// from the seed users; nothing is written until the first mutation.
func NewFileStore(path string, seed map[string]Credential) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path required")
	}

	s := &FileStore{
		path: path,
		state: fileState{
			Users:  make(map[string]Credential),
			Tokens: make(map[string]TokenRecord),
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if s.state.Users == nil {
			s.state.Users = make(map[string]Credential)
		}
		if s.state.Tokens == nil {
			s.state.Tokens = make(map[string]TokenRecord)
		}
	case os.IsNotExist(err):
		for username, cred := range seed {
			s.state.Users[username] = cred
		}
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return s, nil
}

// save rewrites the whole document atomically. Caller holds s.mu.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("setting store permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing store: %w", err)
	}
	return nil
}

// lookupCredential returns the OTP secret for a username.
func (s *FileStore) lookupCredential(username string) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.state.Users[username]
	return cred, ok
}

// putToken stores an issued token and persists the change. A failed rewrite
// leaves no trace in memory: a token the caller never received must not
// validate later.
func (s *FileStore) putToken(token string, rec TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Tokens[token] = rec
	if err := s.save(); err != nil {
		delete(s.state.Tokens, token)
		return err
	}
	return nil
}

// getToken looks up a token.
func (s *FileStore) getToken(token string) (TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.Tokens[token]
	return rec, ok
}

// deleteToken removes a token and persists the change. Deleting an absent
// token is a no-op.
func (s *FileStore) deleteToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Tokens[token]; !ok {
		return nil
	}
	delete(s.state.Tokens, token)
	return s.save()
}

// TokenCount returns the number of stored tokens.
func (s *FileStore) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Tokens)
}
