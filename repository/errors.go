package repository

import (
	"context"
	"errors"
	"fmt"

	"newswatch/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// classifyStoreError maps driver errors onto the domain error taxonomy so
// callers can branch on kind instead of driver internals.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", op, domain.ErrConflict)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return domain.NewTransientStoreError(op, err)
		case "53300", "57014": // too_many_connections, query_canceled
			return domain.NewTransientStoreError(op, err)
		}
		// Remaining SQLSTATE errors are programming or schema faults.
		return domain.NewFatalStoreError(op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return domain.NewTransientStoreError(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Network-level failures (connection refused, reset) surface as plain
	// errors from pgconn; treat them as retryable.
	return domain.NewTransientStoreError(op, err)
}
