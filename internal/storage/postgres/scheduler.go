package postgres

import (
	"context"
	"fmt"
	"time"
)

// TryAcquireExclusiveRun attempts to become the sole holder of runType's
// lease: insert the row if unheld, or steal it if the previous holder's
// lease has expired. Returns acquired=false on ordinary contention (spec §5
// "exclusive run"; cmd/worker uses it for its stale-sweep lease).
func (s *Store) TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (release func(), acquired bool, err error) {
	expiresAt := time.Now().UTC().Add(leaseDuration)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scheduler_leases (run_type, holder_id, lease_expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_type) DO UPDATE
		SET holder_id = EXCLUDED.holder_id, lease_expires_at = EXCLUDED.lease_expires_at
		WHERE scheduler_leases.lease_expires_at < now()`,
		runType, holderID, expiresAt)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}

	releaseFunc := func() {
		_, _ = s.pool.Exec(context.Background(), `
			DELETE FROM scheduler_leases WHERE run_type = $1 AND holder_id = $2`,
			runType, holderID)
	}
	return releaseFunc, true, nil
}
