package letsencrypt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/redis/go-redis/v9"
)

// AccountKeyStore persists the ACME account key so renewals reuse the
// registered account.
type AccountKeyStore interface {
	// Load returns ErrAccountKeyNotFound when no key was saved yet.
	Load(ctx context.Context) (crypto.Signer, error)
	Save(ctx context.Context, key crypto.Signer) error
}

// DefaultRedisAccountKey is the Redis key used by RedisKeyStore.
const DefaultRedisAccountKey = "unitctl:acme:account_key"

// FileKeyStore keeps the account key as a PEM file.
type FileKeyStore struct {
	path string
}

// NewFileKeyStore returns a store backed by path.
func NewFileKeyStore(path string) *FileKeyStore {
	return &FileKeyStore{path: path}
}

// Load reads the key file.
func (s *FileKeyStore) Load(_ context.Context) (crypto.Signer, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrAccountKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read account key: %w", err)
	}
	return decodeAccountKey(data)
}

// Save writes the key file atomically with owner-only permissions.
func (s *FileKeyStore) Save(_ context.Context, key crypto.Signer) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create account key directory: %w", err)
	}
	return writeFileAtomic(s.path, certcrypto.PEMEncode(key), 0o600)
}

// RedisKeyStore keeps the account key in Redis so several instances share
// one ACME account.
type RedisKeyStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisKeyStore returns a store writing under key, or
// DefaultRedisAccountKey when key is empty.
func NewRedisKeyStore(client redis.UniversalClient, key string) *RedisKeyStore {
	if key == "" {
		key = DefaultRedisAccountKey
	}
	return &RedisKeyStore{client: client, key: key}
}

// Load fetches the key.
func (s *RedisKeyStore) Load(ctx context.Context) (crypto.Signer, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrAccountKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account key: %w", err)
	}
	return decodeAccountKey(data)
}

// Save stores the key without expiry.
func (s *RedisKeyStore) Save(ctx context.Context, key crypto.Signer) error {
	if err := s.client.Set(ctx, s.key, certcrypto.PEMEncode(key), 0).Err(); err != nil {
		return fmt.Errorf("save account key: %w", err)
	}
	return nil
}

func decodeAccountKey(data []byte) (crypto.Signer, error) {
	key, err := certcrypto.ParsePEMPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("decode account key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("decode account key: %T is not a signer", key)
	}
	return signer, nil
}

// loadOrCreateAccountKey returns the stored key, generating and saving an
// ECDSA P-256 key on first use.
func loadOrCreateAccountKey(ctx context.Context, store AccountKeyStore) (crypto.Signer, bool, error) {
	key, err := store.Load(ctx)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, ErrAccountKeyNotFound) {
		return nil, false, err
	}

	fresh, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, false, fmt.Errorf("generate account key: %w", err)
	}
	if err := store.Save(ctx, fresh); err != nil {
		return nil, false, err
	}
	return fresh, true, nil
}
