package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL-backed implementation of every repository
// interface the service layer depends on (orchestrator.Store,
// reconciliation.Store, worker.Store, txprocessor.Store). It holds a single
// pool; every method opens its own transaction where one is needed rather
// than threading *pgx.Tx through call sites, mirroring the teacher's
// PostgresCoordinator shape.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an already-configured pool. Use NewPostgresStore /
// NewStoreWithConfig to also run migrations first.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
