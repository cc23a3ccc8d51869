package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	// gorm translates driver errors when TranslateError is on
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// DuplicateKeyTarget names what a unique violation hit: the constraint name
// for postgres drivers, the key for MySQL and the column list for SQLite.
// It is empty when the driver detail is gone, as with gorm.ErrDuplicatedKey.
func DuplicateKeyTarget(err error) string {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return pqErr.Constraint
	}

	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, "UNIQUE constraint failed: "); ok {
		return strings.TrimSpace(rest)
	}
	if _, rest, ok := strings.Cut(msg, "for key '"); ok {
		key, _, _ := strings.Cut(rest, "'")
		return key
	}
	if _, rest, ok := strings.Cut(msg, "violates unique constraint \""); ok {
		name, _, _ := strings.Cut(rest, "\"")
		return name
	}
	return ""
}
