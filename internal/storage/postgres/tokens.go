package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/reconcore/core/internal/domain"
)

// UpsertToken inserts a token row on first sighting (flagged for
// classification) or refreshes its metadata on a later sighting. The
// classification columns are set only by the INSERT branch: the DO UPDATE
// clause deliberately never touches needs_classification,
// classification_attempts, or classification_error (spec §3 Token
// invariant), so a metadata refresh never resets progress already made by
// the classifier.
func (s *Store) UpsertToken(ctx context.Context, meta domain.TokenMetadata) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (id, chain_alias, address, name, symbol, decimals)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain_alias, address) DO UPDATE
		SET name = EXCLUDED.name,
		    symbol = EXCLUDED.symbol,
		    decimals = EXCLUDED.decimals`,
		uuid.NewString(), string(meta.Chain), meta.Address, meta.Name, meta.Symbol, meta.Decimals)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}
