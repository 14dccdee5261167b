package backup_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sandiman184/e-raport/internal/backup"
	"github.com/Sandiman184/e-raport/internal/compress"
	"github.com/Sandiman184/e-raport/internal/db"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/manifest"
	"github.com/Sandiman184/e-raport/internal/storage"
	"github.com/Sandiman184/e-raport/internal/testutil"
)

var fixture = testutil.Fixture{
	Students: 3,
	Subjects: 4,
	Grades:   map[string]int{"2023/2024": 6, "2024/2025": 4},
	Reports:  map[string]int{"2023/2024": 2, "2024/2025": 1},
	Settings: map[string]string{"school_name": "SD Negeri 1", "headmaster": "Ibu Sari"},
	Users:    []string{"admin"},
}

func newBuilder(t *testing.T, storePath string, mirror *storage.Mirror) (*backup.Builder, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "backups")
	return backup.NewBuilder(backup.BuilderOptions{
		AppName:   "eraport",
		StorePath: storePath,
		Store:     storage.NewSnapshotStore(dir),
		Mirror:    mirror,
		Now:       testutil.FixedClock().Now,
	}), dir
}

func TestBuilder_FullSnapshot(t *testing.T) {
	live := testutil.NewSeededStore(t, fixture)
	b, dir := newBuilder(t, live, nil)

	built, err := b.Create(context.Background(), backup.BuildOptions{Description: "Akhir semester"})
	require.NoError(t, err)
	assert.Empty(t, built.Warnings)
	assert.Equal(t, "backup_eraport_2025-07-01_08-00-00_Akhir_semester.sqlite", built.Name)
	assert.Equal(t, dir, filepath.Dir(built.Path))

	v := db.NewVerifier().Verify(context.Background(), built.Path)
	require.True(t, v.OK, v.Message)

	for _, table := range []string{db.TableStudents, db.TableSubjects, db.TableGrades, db.TableReportRecords, db.TableSettings, db.TableUsers} {
		assert.Equal(t, testutil.Count(t, live, table, ""), testutil.Count(t, built.Path, table, ""), table)
	}

	require.NotNil(t, built.Manifest)
	assert.Equal(t, "manual", built.Manifest.Trigger)
	assert.EqualValues(t, 10, built.Manifest.RowCounts[db.TableGrades])
	assert.NoError(t, built.Manifest.VerifyFile(built.Path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), storage.TempExt), "temp file left behind: %s", e.Name())
	}
}

func TestBuilder_YearScopedSnapshot(t *testing.T) {
	live := testutil.NewSeededStore(t, fixture)
	b, _ := newBuilder(t, live, nil)

	built, err := b.Create(context.Background(), backup.BuildOptions{Year: "2023/2024", Trigger: backup.TriggerPrePrune})
	require.NoError(t, err)
	assert.Equal(t, "backup_eraport_2025-07-01_08-00-00_Year-2023-2024.sqlite", built.Name)
	assert.Equal(t, "2023/2024", built.Year)

	assert.EqualValues(t, 6, testutil.Count(t, built.Path, db.TableGrades, ""))
	assert.EqualValues(t, 2, testutil.Count(t, built.Path, db.TableReportRecords, ""))
	assert.Zero(t, testutil.Count(t, built.Path, db.TableGrades, "2024/2025"))

	// Reference tables are copied whole.
	assert.EqualValues(t, 3, testutil.Count(t, built.Path, db.TableStudents, ""))
	assert.EqualValues(t, 4, testutil.Count(t, built.Path, db.TableSubjects, ""))
	assert.EqualValues(t, 2, testutil.Count(t, built.Path, db.TableSettings, ""))

	// The live store is untouched.
	assert.EqualValues(t, 10, testutil.Count(t, live, db.TableGrades, ""))
}

func TestBuilder_NameCollision(t *testing.T) {
	live := testutil.NewSeededStore(t, fixture)
	b, _ := newBuilder(t, live, nil)

	first, err := b.Create(context.Background(), backup.BuildOptions{})
	require.NoError(t, err)
	second, err := b.Create(context.Background(), backup.BuildOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, first.Name, second.Name)
	assert.Equal(t, "backup_eraport_2025-07-01_08-00-00_2.sqlite", second.Name)
}

func TestBuilder_Errors(t *testing.T) {
	live := testutil.NewSeededStore(t, fixture)

	t.Run("missing store", func(t *testing.T) {
		b, dir := newBuilder(t, filepath.Join(t.TempDir(), "nope.sqlite"), nil)
		_, err := b.Create(context.Background(), backup.BuildOptions{})
		assert.ErrorIs(t, err, apperrors.ErrStoreNotFound)
		_, statErr := os.Stat(dir)
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	})

	t.Run("bad year", func(t *testing.T) {
		b, _ := newBuilder(t, live, nil)
		_, err := b.Create(context.Background(), backup.BuildOptions{Year: "2023"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidScope)
	})

	t.Run("corrupt live store", func(t *testing.T) {
		bad := testutil.NewSeededStore(t, fixture)
		corruptPages(t, bad)
		b, dir := newBuilder(t, bad, nil)

		_, err := b.Create(context.Background(), backup.BuildOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrBackupCorrupt)

		snaps, lerr := storage.NewSnapshotStore(dir).List(context.Background())
		require.NoError(t, lerr)
		assert.Empty(t, snaps)
	})
}

// corruptPages overwrites the b-tree page header of every page after the
// first, leaving the file header and schema page readable.
func corruptPages(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 100)

	pageSize := int(binary.BigEndian.Uint16(data[16:18]))
	if pageSize == 1 {
		pageSize = 65536
	}
	require.Greater(t, len(data), pageSize, "store has a single page")
	for off := pageSize; off+1 < len(data); off += pageSize {
		data[off] = 0xFF
		data[off+1] = 0xFF
	}
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestBuilder_DottedDescription(t *testing.T) {
	live := testutil.NewSeededStore(t, fixture)
	b, _ := newBuilder(t, live, nil)

	tests := []struct {
		desc, want string
	}{
		{"semester 1...final", "backup_eraport_2025-07-01_08-00-00_semester_1.final.sqlite"},
		{"v1..2", "backup_eraport_2025-07-01_08-00-00_v1.2.sqlite"},
		{"end of year.", "backup_eraport_2025-07-01_08-00-00_end_of_year.sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			built, err := b.Create(context.Background(), backup.BuildOptions{Description: tt.desc})
			require.NoError(t, err)
			assert.Equal(t, tt.want, built.Name)
			assert.FileExists(t, built.Path)
		})
	}
}

type brokenRemote struct{}

func (brokenRemote) Save(_ context.Context, _ string, r io.Reader, _ int64) (string, error) {
	io.Copy(io.Discard, r)
	return "", errors.New("bucket unreachable")
}
func (brokenRemote) Open(context.Context, string) (io.ReadCloser, error) { return nil, os.ErrNotExist }
func (brokenRemote) Delete(context.Context, string) error                { return nil }
func (brokenRemote) Location() string                                     { return "s3://broken" }

func TestBuilder_MirrorFailureIsAWarning(t *testing.T) {
	live := testutil.NewSeededStore(t, fixture)
	b, _ := newBuilder(t, live, storage.NewMirror(brokenRemote{}, compress.Zstd, ""))

	built, err := b.Create(context.Background(), backup.BuildOptions{})
	require.NoError(t, err)
	require.Len(t, built.Warnings, 1)
	assert.Contains(t, built.Warnings[0], "bucket unreachable")

	m, err := manifest.Read(built.Path)
	require.NoError(t, err)
	assert.Empty(t, m.Mirror)
}
