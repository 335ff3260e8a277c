package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned unwrapped.
func WithTx(ctx context.Context, db bun.IDB, fn func(ctx context.Context, tx bun.Tx) error) error {
	return db.RunInTx(ctx, nil, fn)
}

// AdvisoryXactLock takes a transaction-scoped advisory lock on key.
// The lock is released when the transaction ends.
func AdvisoryXactLock(ctx context.Context, tx bun.IDB, key string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

// SetLocal sets a configuration parameter for the rest of the transaction.
func SetLocal(ctx context.Context, tx bun.IDB, name string, value any) error {
	// SET LOCAL does not accept bind parameters; set_config(..., true) is equivalent.
	if _, err := tx.ExecContext(ctx, "SELECT set_config(?, ?, true)", name, fmt.Sprint(value)); err != nil {
		return fmt.Errorf("set local %s: %w", name, err)
	}
	return nil
}
