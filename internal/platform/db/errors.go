package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sitebill/sitebill/internal/shared"
)

// PostgreSQL SQLSTATE codes the repositories care about.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeCheckViolation       = "23514"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

// ClassifyError maps driver errors onto the shared sentinels. Anything it
// does not recognise is returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case CodeUniqueViolation, CodeSerializationFailure, CodeDeadlockDetected:
		return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.Message)
	case CodeForeignKeyViolation, CodeCheckViolation:
		return fmt.Errorf("%w: %s", shared.ErrValidation, pgErr.Message)
	}
	return err
}
