package db_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sandiman184/e-raport/internal/db"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/testutil"
)

func TestMigrate_Idempotent(t *testing.T) {
	path := testutil.NewStore(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx, path))

	conn, err := db.OpenReadOnly(ctx, path)
	require.NoError(t, err)
	defer conn.Close()

	tables, err := db.ListTables(ctx, conn)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		db.TableAuditLogs, db.TableGrades, db.TableReportRecords, db.TableSettings,
		db.TableStudents, db.TableSubjects, db.TableUsers,
	}, tables)

	version, dirty, err := db.SchemaVersion(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestOpen_MissingStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sqlite")

	_, err := db.Open(context.Background(), path)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeStoreNotFound))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "Open must not create the store")
}

func TestCountRows(t *testing.T) {
	path := testutil.NewSeededStore(t, testutil.Fixture{
		Students: 2,
		Subjects: 1,
		Grades:   map[string]int{"2023/2024": 4, "2024/2025": 6},
		Reports:  map[string]int{"2024/2025": 2},
	})
	ctx := context.Background()
	conn, err := db.OpenReadOnly(ctx, path)
	require.NoError(t, err)
	defer conn.Close()

	n, err := db.CountRows(ctx, conn, db.TableGrades, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	n, err = db.CountRows(ctx, conn, db.TableGrades, "2023/2024")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	years, err := db.YearRows(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"2023/2024": 4, "2024/2025": 8}, years)

	counts, err := db.TableCounts(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[db.TableStudents])
	assert.Equal(t, int64(2), counts[db.TableReportRecords])
}

func TestCopyConsistent(t *testing.T) {
	path := testutil.NewSeededStore(t, testutil.Fixture{Students: 3, Subjects: 2, Grades: map[string]int{"2024/2025": 5}})

	var buf bytes.Buffer
	n, err := db.CopyConsistent(context.Background(), path, &buf)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), n)

	copyPath := filepath.Join(t.TempDir(), "copy.sqlite")
	require.NoError(t, os.WriteFile(copyPath, buf.Bytes(), 0o600))
	assert.Equal(t, int64(5), testutil.Count(t, copyPath, db.TableGrades, ""))
}

func TestFilterToYear(t *testing.T) {
	path := testutil.NewSeededStore(t, testutil.Fixture{
		Students: 2,
		Subjects: 3,
		Grades:   map[string]int{"2023/2024": 10, "2024/2025": 5},
		Reports:  map[string]int{"2023/2024": 2, "2024/2025": 1},
		Settings: map[string]string{"school_name": "MI Nurul Huda"},
	})

	removed, err := db.FilterToYear(context.Background(), path, "2023/2024")
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed[db.TableGrades])
	assert.Equal(t, int64(1), removed[db.TableReportRecords])

	assert.Equal(t, int64(10), testutil.Count(t, path, db.TableGrades, ""))
	assert.Equal(t, int64(2), testutil.Count(t, path, db.TableReportRecords, ""))
	assert.Equal(t, int64(2), testutil.Count(t, path, db.TableStudents, ""))
	assert.Equal(t, int64(3), testutil.Count(t, path, db.TableSubjects, ""))
	assert.Equal(t, int64(1), testutil.Count(t, path, db.TableSettings, ""))
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	v := db.NewVerifier()
	dir := t.TempDir()

	good := testutil.NewSeededStore(t, testutil.Fixture{Students: 1})
	res := v.Verify(ctx, good)
	assert.True(t, res.OK, res.Message)
	assert.Equal(t, 7, res.Tables)

	data, err := os.ReadFile(good)
	require.NoError(t, err)

	truncated := filepath.Join(dir, "truncated.sqlite")
	require.NoError(t, os.WriteFile(truncated, data[:10], 0o600))

	garbage := filepath.Join(dir, "garbage.sqlite")
	require.NoError(t, os.WriteFile(garbage, bytes.Repeat([]byte("x"), 4096), 0o600))

	empty := filepath.Join(dir, "empty.sqlite")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	noTables := filepath.Join(dir, "notables.sqlite")
	conn, err := db.OpenReadOnly(ctx, good)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "VACUUM INTO ?", noTables)
	require.NoError(t, err)
	conn.Close()
	for _, tbl := range []string{"audit_logs", "grades", "report_records", "students", "subjects", "settings", "users", "schema_migrations"} {
		testutil.Exec(t, noTables, "DROP TABLE "+tbl)
	}

	tests := []struct {
		name string
		path string
		msg  string
	}{
		{"missing", filepath.Join(dir, "nope.sqlite"), "file not found"},
		{"empty", empty, "file is empty"},
		{"truncated", truncated, "file too short"},
		{"garbage", garbage, "not a SQLite database"},
		{"no tables", noTables, "no tables"},
		{"directory", dir, "directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Verify(ctx, tt.path)
			assert.False(t, res.OK)
			assert.Contains(t, res.Message, tt.msg)
		})
	}
}
