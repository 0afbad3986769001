// ABOUTME: API key persistence: named bcrypt-hashed keys with last-use tracking.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// APIKey is a stored credential. The plaintext key exists only at creation
// time; only its bcrypt hash is persisted.
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// SaveAPIKey stores a new key. Names are unique.
func (s *Store) SaveAPIKey(ctx context.Context, key APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, created_at)
		VALUES (?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyHash, key.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

// APIKeyByName returns the key with the given name, or ErrNotFound.
func (s *Store) APIKeyByName(ctx context.Context, name string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, created_at, last_used_at
		FROM api_keys WHERE name = ?`, name)
	return scanAPIKey(row)
}

// ListAPIKeys returns every stored key, oldest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, key_hash, created_at, last_used_at
		FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.CreatedAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		if lastUsed.Valid {
			k.LastUsedAt = &lastUsed.Time
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// TouchAPIKey records that a key was just used.
func (s *Store) TouchAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// DeleteAPIKey removes a key by name. Deleting an absent key is ErrNotFound.
func (s *Store) DeleteAPIKey(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKey(row *sql.Row) (*APIKey, error) {
	var k APIKey
	var lastUsed sql.NullTime
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.CreatedAt, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	return &k, nil
}
