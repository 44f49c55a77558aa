package letsencrypt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ChallengeStore keeps HTTP-01 key authorizations as files the runtime can
// serve. One file per token, named by the token.
type ChallengeStore struct {
	dir string
}

// NewChallengeStore creates the directory if needed. The path is made
// absolute since the runtime resolves it on its own.
func NewChallengeStore(dir string) (*ChallengeStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrChallengeDirRequired
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve challenge directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create challenge directory: %w", err)
	}
	return &ChallengeStore{dir: abs}, nil
}

// Path returns the file serving token.
func (s *ChallengeStore) Path(token string) (string, error) {
	if !validToken(token) {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	return filepath.Join(s.dir, token), nil
}

// Write stores content for token and returns the file path.
func (s *ChallengeStore) Write(token, content string) (string, error) {
	path, err := s.Path(token)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write challenge %s: %w", token, err)
	}
	return path, nil
}

// Read returns the content stored for token.
func (s *ChallengeStore) Read(token string) (string, error) {
	path, err := s.Path(token)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read challenge %s: %w", token, err)
	}
	return string(data), nil
}

// Delete removes the file for token. A missing file is not an error.
func (s *ChallengeStore) Delete(token string) error {
	path, err := s.Path(token)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete challenge %s: %w", token, err)
	}
	return nil
}

// List returns the tokens currently stored.
func (s *ChallengeStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	var tokens []string
	for _, e := range entries {
		if !e.IsDir() && validToken(e.Name()) {
			tokens = append(tokens, e.Name())
		}
	}
	return tokens, nil
}

// Dir returns the storage directory path.
func (s *ChallengeStore) Dir() string {
	return s.dir
}

// validToken accepts the base64url alphabet ACME tokens are drawn from.
func validToken(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// writeFileAtomic writes through a temporary sibling and renames it over
// path, so readers never see a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
