package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reconcore/core/internal/auth"
	"github.com/reconcore/core/internal/domain"
)

func (s *Store) CreateAPIKey(ctx context.Context, key auth.Key) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, key_type, service, version, short_token, long_secret_hash, name, is_active, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		key.ID, key.KeyType, key.Service, key.Version, key.ShortToken, key.LongSecretHash,
		key.Name, key.IsActive, key.CreatedAt, key.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKeyByShortToken(ctx context.Context, shortToken string) (*auth.Key, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, key_type, service, version, short_token, long_secret_hash, name, is_active,
		       created_at, expires_at, last_used_at
		FROM api_keys WHERE short_token = $1`, shortToken)

	var k auth.Key
	if err := row.Scan(&k.ID, &k.KeyType, &k.Service, &k.Version, &k.ShortToken, &k.LongSecretHash,
		&k.Name, &k.IsActive, &k.CreatedAt, &k.ExpiresAt, &k.LastUsedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("update api key last_used_at: %w", err)
	}
	return nil
}
