// Package dbutil provides small shared helpers for the SQLite-backed stores.
package dbutil

import (
	"context"
	"database/sql"
	"fmt"
)

// TxFunc runs within a transaction.
type TxFunc func(*sql.Tx) error

// WithTransaction executes fn within a transaction on db, committing on
// success and rolling back on error or panic.
func WithTransaction(ctx context.Context, db *sql.DB, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
			}
		} else {
			if cerr := tx.Commit(); cerr != nil {
				err = fmt.Errorf("commit transaction: %w", cerr)
			}
		}
	}()

	err = fn(tx)
	return err
}
