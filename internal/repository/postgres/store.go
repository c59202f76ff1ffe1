package postgres

import (
	"context"

	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/jmoiron/sqlx"
)

// Store implements repository.Store on Postgres. Outside a transaction q is the
// pool; inside WithinTx it is the *sqlx.Tx and db is nil.
type Store struct {
	db *DB
	q  sqlx.ExtContext
}

func NewStore(db *DB) *Store {
	return &Store{db: db, q: db.DB}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Orders() repository.OrderRepository {
	return &orderRepository{store: s}
}

func (s *Store) Ledger() repository.StockLedgerRepository {
	return &ledgerRepository{q: s.q}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&Store{q: tx})
	})
}
