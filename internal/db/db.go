// Package db owns every SQL touchpoint of the live store: opening
// connections, schema migration, row counting, consistent copies and the
// integrity verifier.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	TableStudents      = "students"
	TableSubjects      = "subjects"
	TableGrades        = "grades"
	TableReportRecords = "report_records"
	TableSettings      = "settings"
	TableUsers         = "users"
	TableAuditLogs     = "audit_logs"
)

// YearScopedTables carry a `year` column. Scoped backups and prune touch
// only these.
var YearScopedTables = []string{TableGrades, TableReportRecords}

// ResetTables lists what a full reset empties, children before parents.
var ResetTables = []string{TableGrades, TableReportRecords, TableStudents}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ListTables returns user tables, skipping SQLite internals and the
// migration bookkeeping table.
func ListTables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> 'schema_migrations' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// HasTable reports whether table exists.
func HasTable(ctx context.Context, q Querier, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountRows counts rows in table; a non-empty year restricts the count to
// that academic year.
func CountRows(ctx context.Context, q Querier, table, year string) (int64, error) {
	var (
		n   int64
		err error
	)
	if year == "" {
		err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	} else {
		err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)+" WHERE year = ?", year).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// TableCounts returns the row count of every user table.
func TableCounts(ctx context.Context, q Querier) (map[string]int64, error) {
	tables, err := ListTables(ctx, q)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		n, err := CountRows(ctx, q, t, "")
		if err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, nil
}

// YearRows sums rows per academic year over the year-scoped tables.
func YearRows(ctx context.Context, q Querier) (map[string]int64, error) {
	out := map[string]int64{}
	for _, t := range YearScopedTables {
		ok, err := HasTable(ctx, q, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rows, err := q.QueryContext(ctx, "SELECT year, COUNT(*) FROM "+quoteIdent(t)+" WHERE year IS NOT NULL GROUP BY year")
		if err != nil {
			return nil, fmt.Errorf("group %s by year: %w", t, err)
		}
		for rows.Next() {
			var (
				year string
				n    int64
			)
			if err := rows.Scan(&year, &n); err != nil {
				rows.Close()
				return nil, err
			}
			out[year] += n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// DeleteRows removes the rows of table belonging to year, or every row when
// year is empty, and reports how many went.
func DeleteRows(ctx context.Context, q Querier, table, year string) (int64, error) {
	query := "DELETE FROM " + quoteIdent(table)
	var args []any
	if year != "" {
		query += " WHERE year = ?"
		args = append(args, year)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}
