package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the SQLSTATE for unique and primary key violations.
const pgUniqueViolation = "23505"

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsPostgresUniqueError reports whether err is a unique or primary key violation.
func IsPostgresUniqueError(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// IsPostgresConstraintError reports whether err belongs to SQLSTATE class 23.
func IsPostgresConstraintError(err error) bool {
	code := pgCode(err)
	return len(code) == 5 && code[:2] == "23"
}
