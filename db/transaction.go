package db

import (
	"context"
)

// txFunc represents a function that does work in the context of a transaction.
type txFunc func(tx Executor) (interface{}, error)

// WithTransaction runs f in a transaction obtained from dbMap, rolling back
// if it returns an error and committing otherwise. It passes through
// whatever value f returns.
func WithTransaction(ctx context.Context, dbMap DatabaseMap, f txFunc) (interface{}, error) {
	tx, err := dbMap.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	result, err := f(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, ErrDatabaseOp{Op: "rollback after " + err.Error(), Err: rbErr}
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}
