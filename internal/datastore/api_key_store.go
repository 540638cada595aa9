package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertAPIKey stores a newly generated API key record.
func (s *Store) InsertAPIKey(ctx context.Context, k *APIKey) error {
	query := `
		INSERT INTO api_keys (id, key, name, active, created_at, last_used)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, k.ID, k.Key, k.Name, k.Active, k.CreatedAt, k.LastUsed)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// FindActiveAPIKey looks up an API key by exact key match, requiring it to be
// active. It returns ErrNotFound for unknown and deactivated keys alike, so
// callers cannot distinguish the two cases.
func (s *Store) FindActiveAPIKey(ctx context.Context, key string) (*APIKey, error) {
	query := `
		SELECT id, key, name, active, created_at, last_used
		FROM api_keys
		WHERE key = $1 AND active = TRUE
	`
	k := &APIKey{}
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&k.ID,
		&k.Key,
		&k.Name,
		&k.Active,
		&k.CreatedAt,
		&k.LastUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find api key: %w", err)
	}
	return k, nil
}

// TouchAPIKeyLastUsed refreshes the last_used timestamp of an API key.
// Callers treat this as bookkeeping: a failure must not fail the request
// that triggered it.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET last_used = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update api key last_used: %w", err)
	}
	return nil
}

// DeactivateAPIKey flips an API key to inactive. It reports whether a row
// was modified; deactivation is irreversible through this API.
func (s *Store) DeactivateAPIKey(ctx context.Context, key string) (bool, error) {
	query := `UPDATE api_keys SET active = FALSE WHERE key = $1 AND active = TRUE`
	result, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate api key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
