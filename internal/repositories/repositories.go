package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/playsync/internal/shared"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned when an insert collides with a unique index.
var ErrDuplicate = fmt.Errorf("duplicate record")

// scanner is satisfied by [sql.Row] and [sql.Rows].
type scanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

// persistenceError wraps a driver failure so callers can match [shared.ErrPersistence].
func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", shared.ErrPersistence, op, err)
}

func notFound(kind, key string) error {
	return fmt.Errorf("%w: %s %s", shared.ErrNotFound, kind, key)
}

// nullString stores empty strings as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
