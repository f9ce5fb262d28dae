package postgres

import (
	"context"
	"fmt"

	"github.com/reconcore/core/internal/domain"
)

// UpsertTransaction inserts or refreshes the locally-stored view of one
// on-chain transaction, keyed by (chain_alias, tx_hash) (spec §4.5).
func (s *Store) UpsertTransaction(ctx context.Context, tx domain.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions
			(id, chain_alias, tx_hash, block_number, from_address, to_address,
			 value, fee, status, timestamp, classification)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (chain_alias, tx_hash) DO UPDATE
		SET block_number = EXCLUDED.block_number,
		    from_address = EXCLUDED.from_address,
		    to_address = EXCLUDED.to_address,
		    value = EXCLUDED.value,
		    fee = EXCLUDED.fee,
		    status = EXCLUDED.status,
		    timestamp = EXCLUDED.timestamp,
		    classification = EXCLUDED.classification`,
		tx.ID, string(tx.Chain), tx.TxHash, tx.BlockNumber, tx.FromAddress, tx.ToAddress,
		tx.Value, tx.Fee, tx.Status, tx.Timestamp, string(tx.Classification))
	if err != nil {
		return fmt.Errorf("upsert transaction: %w", err)
	}
	return nil
}

// LocalTransactions builds the reconciliation worker's comparison set for
// one (chain, address) pair, keyed by tx_hash, optionally floored at
// fromBlock for partial-mode jobs (spec §4.3.4 step 2).
func (s *Store) LocalTransactions(ctx context.Context, chain domain.ChainAlias, address string, fromBlock *int64) (map[string]domain.Transaction, error) {
	query := `
		SELECT id, chain_alias, tx_hash, block_number, from_address, to_address,
		       value, fee, status, timestamp, classification
		FROM transactions
		WHERE chain_alias = $1 AND (from_address = $2 OR to_address = $2)`
	args := []any{string(chain), address}
	if fromBlock != nil {
		query += ` AND block_number >= $3`
		args = append(args, *fromBlock)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query local transactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Transaction)
	for rows.Next() {
		var (
			tx             domain.Transaction
			chainAlias     string
			classification string
		)
		if err := rows.Scan(&tx.ID, &chainAlias, &tx.TxHash, &tx.BlockNumber, &tx.FromAddress,
			&tx.ToAddress, &tx.Value, &tx.Fee, &tx.Status, &tx.Timestamp, &classification); err != nil {
			return nil, fmt.Errorf("scan local transaction: %w", err)
		}
		tx.Chain = domain.ChainAlias(chainAlias)
		tx.Classification = domain.ClassificationKind(classification)
		out[tx.TxHash] = tx
	}
	return out, rows.Err()
}
