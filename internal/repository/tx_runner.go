package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner runs repository work inside a single transaction
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// WithDocumentsTx hands fn a document repository bound to a transaction that
// commits when fn returns nil and rolls back otherwise
func (r *TxRunner) WithDocumentsTx(ctx context.Context, fn func(docs *RetrievalDocumentRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(NewRetrievalDocumentRepositoryWithTx(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}
