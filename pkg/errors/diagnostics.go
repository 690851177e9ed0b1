package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics flattens an error chain into log fields. Postgres driver
// errors contribute their SQLSTATE and the constraint involved.
type Diagnostics struct {
	Message    string
	Code       Code
	Retryable  bool
	Chain      []string
	SQLState   string
	Constraint string
	Table      string
	Detail     string
}

func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error(), Retryable: IsRetryable(err)}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}

	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		d.SQLState, d.Constraint, d.Table, d.Detail = pgErr.Code, pgErr.ConstraintName, pgErr.TableName, pgErr.Detail
	case errors.As(err, &pqErr):
		d.SQLState, d.Constraint, d.Table, d.Detail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	}
	return d
}

// Fields returns the non-empty diagnostics keyed for structured logs.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{
		"error":           d.Message,
		"error_retryable": d.Retryable,
	}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	for key, value := range map[string]string{
		"sql_state":      d.SQLState,
		"sql_constraint": d.Constraint,
		"sql_table":      d.Table,
		"sql_detail":     d.Detail,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
