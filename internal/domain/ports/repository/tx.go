package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle passed through repository calls.
// Concrete repositories type-assert it back to their driver's transaction.
type Tx interface{}

// TransactionManager runs fn inside a database transaction, committing on nil
// and rolling back on error.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
