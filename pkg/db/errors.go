package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// When constraintName is provided the violation must reference it.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && matchesConstraint(pgErr.ConstraintName, constraintName)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation && matchesConstraint(pqErr.Constraint, constraintName)
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if constraintName == "" {
		return true
	}
	return strings.Contains(msg, constraintName) || sqliteColumnsMatch(msg, constraintName)
}

func matchesConstraint(actual, want string) bool {
	return want == "" || actual == want
}

// sqlite reports columns rather than index names ("UNIQUE constraint failed:
// subscriptions.user_id"), so map the known indexes to their columns.
func sqliteColumnsMatch(msg, constraintName string) bool {
	columns, ok := uniqueIndexColumns[constraintName]
	if !ok {
		return false
	}
	return strings.Contains(msg, columns)
}

var uniqueIndexColumns = map[string]string{
	ActiveSubscriptionIndex: "subscriptions.user_id",
	"ux_plans_name":         "plans.name",
}
