// Package testutil builds seeded live stores for tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sandiman184/e-raport/internal/db"
)

// Fixture describes the rows Seed inserts. Grades and Reports are keyed by
// academic year; each row references the first student and subject.
type Fixture struct {
	Students int
	Subjects int
	Grades   map[string]int
	Reports  map[string]int
	Settings map[string]string
	Users    []string
}

// NewStore creates a migrated, empty live store inside a temp dir and
// returns its path.
func NewStore(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storage", "data.sqlite")
	require.NoError(t, db.Migrate(context.Background(), path))
	return path
}

// NewSeededStore is NewStore followed by Seed.
func NewSeededStore(t testing.TB, f Fixture) string {
	t.Helper()
	path := NewStore(t)
	Seed(t, path, f)
	return path
}

// Seed inserts the fixture rows into the store at path.
func Seed(t testing.TB, path string, f Fixture) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, path)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	studentID, lastStudent := idRange(t, tx, db.TableStudents)
	for i := 0; i < f.Students; i++ {
		res, err := tx.ExecContext(ctx, `INSERT INTO students (nis, name, gender) VALUES (?, ?, ?)`,
			fmt.Sprintf("NIS-%04d", lastStudent+int64(i)+1), fmt.Sprintf("Siswa %d", i+1), "L")
		require.NoError(t, err)
		if studentID == 0 {
			studentID, _ = res.LastInsertId()
		}
	}

	subjectID, lastSubject := idRange(t, tx, db.TableSubjects)
	for i := 0; i < f.Subjects; i++ {
		res, err := tx.ExecContext(ctx, `INSERT INTO subjects (code, name, "order") VALUES (?, ?, ?)`,
			fmt.Sprintf("MP%d", lastSubject+int64(i)+1), fmt.Sprintf("Mapel %d", i+1), i)
		require.NoError(t, err)
		if subjectID == 0 {
			subjectID, _ = res.LastInsertId()
		}
	}

	for year, n := range f.Grades {
		require.NotZero(t, studentID, "grades need a student")
		require.NotZero(t, subjectID, "grades need a subject")
		for i := 0; i < n; i++ {
			_, err := tx.ExecContext(ctx, `INSERT INTO grades (student_id, subject_id, semester, year, nr) VALUES (?, ?, ?, ?, ?)`,
				studentID, subjectID, i%2+1, year, 80.0)
			require.NoError(t, err)
		}
	}

	for year, n := range f.Reports {
		require.NotZero(t, studentID, "reports need a student")
		for i := 0; i < n; i++ {
			_, err := tx.ExecContext(ctx, `INSERT INTO report_records (student_id, semester, year, class_name) VALUES (?, ?, ?, ?)`,
				studentID, i%2+1, year, "1 A")
			require.NoError(t, err)
		}
	}

	for k, v := range f.Settings {
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, k, v)
		require.NoError(t, err)
	}

	for _, u := range f.Users {
		_, err := tx.ExecContext(ctx, `INSERT INTO users (username) VALUES (?)`, u)
		require.NoError(t, err)
	}

	require.NoError(t, tx.Commit())
}

func idRange(t testing.TB, q db.Querier, table string) (first, last int64) {
	t.Helper()
	var lo, hi sql.NullInt64
	require.NoError(t, q.QueryRowContext(context.Background(), "SELECT MIN(id), MAX(id) FROM "+table).Scan(&lo, &hi))
	return lo.Int64, hi.Int64
}

// Count returns the number of rows in table, optionally limited to year.
func Count(t testing.TB, path, table, year string) int64 {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenReadOnly(ctx, path)
	require.NoError(t, err)
	defer conn.Close()

	n, err := db.CountRows(ctx, conn, table, year)
	require.NoError(t, err)
	return n
}

// Exec runs a statement against the store at path.
func Exec(t testing.TB, path, query string, args ...any) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx, query, args...)
	require.NoError(t, err)
}

// FailDeletesOn installs a trigger that aborts any DELETE on table, to
// simulate a failure halfway through a multi-table operation.
func FailDeletesOn(t testing.TB, path, table string) {
	t.Helper()
	Exec(t, path, fmt.Sprintf(`CREATE TRIGGER fail_delete_%[1]s BEFORE DELETE ON %[1]s BEGIN SELECT RAISE(ABORT, 'injected failure'); END;`, table))
}
