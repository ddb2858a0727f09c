package extractors

import (
	"database/sql"
	"fmt"
	"strings"

	"schemamodel/internal/introspect"
)

// collect scans every row of a query and closes the result set before
// returning, so the next query can run on the same connection.
func collect[T any](rows *sql.Rows, err error, what string, scan func(*sql.Rows) (T, error)) ([]T, error) {
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ruleCode maps a referential action name onto its metadata code. Unknown
// actions are reported as NO ACTION.
func ruleCode(action string) int {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(action), "_", " ")) {
	case "CASCADE":
		return introspect.KeyCascade
	case "RESTRICT":
		return introspect.KeyRestrict
	case "SET NULL":
		return introspect.KeySetNull
	case "SET DEFAULT":
		return introspect.KeySetDefault
	default:
		return introspect.KeyNoAction
	}
}

func nullableCode(nullable bool) int {
	if nullable {
		return introspect.ColumnNullable
	}
	return introspect.ColumnNoNulls
}

func optional(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// deferrabilityCode folds the two deferral flags into one code.
func deferrabilityCode(deferrable, deferred bool) int {
	switch {
	case !deferrable:
		return introspect.KeyNotDeferrable
	case deferred:
		return introspect.KeyInitiallyDeferred
	default:
		return introspect.KeyInitiallyImmediate
	}
}
