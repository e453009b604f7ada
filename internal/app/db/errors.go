package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes checked by callers.
const (
	uniqueViolation = "23505"
)

// SyncNodesKeyConstraint is the unique constraint on (path, node_key).
const SyncNodesKeyConstraint = "sync_nodes_path_key_uniq"

// IsUniqueViolation reports whether err violates the named unique constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}

	return constraint == "" || pgErr.ConstraintName == constraint
}
