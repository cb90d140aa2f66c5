package db

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/psicare/psicare/internal/platform/httpx"
)

// PostgreSQL SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
)

// Classify wraps err with the matching httpx sentinel. Unknown errors are
// returned untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s already exists", httpx.ErrConflict, constraintSubject(pgErr))
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s references a missing record", httpx.ErrValidation, constraintSubject(pgErr))
		case codeNotNullViolation:
			return fmt.Errorf("%w: %s is required", httpx.ErrValidation, pgErr.ColumnName)
		}
		return err
	}

	if IsTransportError(err) {
		return fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	}
	return err
}

// IsTransportError reports whether err came from the network rather than
// from the database itself.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func constraintSubject(pgErr *pgconn.PgError) string {
	switch {
	case pgErr.ConstraintName != "":
		return pgErr.ConstraintName
	case pgErr.TableName != "":
		return pgErr.TableName
	default:
		return "record"
	}
}
