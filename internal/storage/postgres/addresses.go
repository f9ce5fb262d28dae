package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/reconcore/core/internal/domain"
)

// GetAddress returns the checkpoint row for (address, chain), domain.ErrNotFound if unseen.
func (s *Store) GetAddress(ctx context.Context, address string, chain domain.ChainAlias) (*domain.Address, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, address, chain_alias, last_reconciled_block
		FROM addresses WHERE address = $1 AND chain_alias = $2`, address, string(chain))

	var a domain.Address
	var chainAlias string
	if err := row.Scan(&a.ID, &a.Address, &chainAlias, &a.LastReconciledBlock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan address: %w", err)
	}
	a.Chain = domain.ChainAlias(chainAlias)
	return &a, nil
}

// UpdateAddressCheckpoint upserts the row and advances last_reconciled_block
// only if the new value is higher; lower values are silently ignored
// (spec §4.3.7 step 3, a stale job finishing after a newer checkpoint).
func (s *Store) UpdateAddressCheckpoint(ctx context.Context, address string, chain domain.ChainAlias, finalBlock int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO addresses (id, address, chain_alias, last_reconciled_block)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, chain_alias) DO UPDATE
		SET last_reconciled_block = GREATEST(addresses.last_reconciled_block, EXCLUDED.last_reconciled_block)`,
		uuid.NewString(), address, string(chain), finalBlock)
	if err != nil {
		return fmt.Errorf("update address checkpoint: %w", err)
	}
	return nil
}
