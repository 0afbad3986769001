// ABOUTME: Long-lived API keys for non-interactive clients.
// ABOUTME: Keys are random, shown once, and stored only as bcrypt hashes.

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/askdb-gateway/internal/store"
)

// keyPrefix marks gateway API keys so they are recognizable in logs and
// secret scanners.
const keyPrefix = "adb_"

// KeyStore is the persistence surface API key auth needs.
type KeyStore interface {
	SaveAPIKey(ctx context.Context, key store.APIKey) error
	ListAPIKeys(ctx context.Context) ([]store.APIKey, error)
	TouchAPIKey(ctx context.Context, id string) error
}

// NewAPIKey mints a key for the given name, persists its hash, and returns
// the plaintext. The plaintext is not recoverable afterwards.
func NewAPIKey(ctx context.Context, keys KeyStore, name string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing key: %w", err)
	}

	err = keys.SaveAPIKey(ctx, store.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   string(hash),
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// VerifyAPIKey checks the plaintext against every stored hash and returns
// the matching key's name. Linear in the number of keys, which stays small.
func VerifyAPIKey(ctx context.Context, keys KeyStore, plaintext string) (string, error) {
	stored, err := keys.ListAPIKeys(ctx)
	if err != nil {
		return "", err
	}
	for _, k := range stored {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(plaintext)) == nil {
			_ = keys.TouchAPIKey(ctx, k.ID)
			return k.Name, nil
		}
	}
	return "", ErrInvalidToken
}
