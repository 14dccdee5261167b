package lifecycle_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sandiman184/e-raport/internal/audit"
	"github.com/Sandiman184/e-raport/internal/backup"
	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/db"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/lifecycle"
	"github.com/Sandiman184/e-raport/internal/notify"
	"github.com/Sandiman184/e-raport/internal/storage"
	"github.com/Sandiman184/e-raport/internal/testutil"
)

type env struct {
	mgr       *lifecycle.Manager
	storePath string
	backupDir string
	clock     *testutil.StubClock
	audit     *audit.Log
	events    *recorder
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) last() notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type envOption func(*lifecycle.Options, *env)

func withStrictSafety() envOption {
	return func(o *lifecycle.Options, _ *env) { o.StrictSafetyBackup = true }
}

func withRetention(r config.Retention) envOption {
	return func(o *lifecycle.Options, _ *env) { o.Retention = r }
}

func newEnv(t *testing.T, f testutil.Fixture, opts ...envOption) *env {
	t.Helper()
	e := &env{
		storePath: testutil.NewSeededStore(t, f),
		backupDir: filepath.Join(t.TempDir(), "backups"),
		clock:     testutil.FixedClock(),
		events:    &recorder{},
	}
	e.build(t, opts...)
	return e
}

func (e *env) build(t *testing.T, opts ...envOption) {
	t.Helper()
	store := storage.NewSnapshotStore(e.backupDir)
	builder := backup.NewBuilder(backup.BuilderOptions{
		AppName:   "eraport",
		StorePath: e.storePath,
		Store:     store,
		Now:       e.clock.Now,
	})
	restorer := backup.NewRestorer(backup.RestorerOptions{
		StorePath:      e.storePath,
		Builder:        builder,
		MaxUploadBytes: 1 << 20,
	})
	e.audit = audit.New(audit.Options{
		StorePath: e.storePath,
		Journal:   audit.NewJournal(e.backupDir),
		Now:       e.clock.Now,
	})

	o := lifecycle.Options{
		StorePath: e.storePath,
		Builder:   builder,
		Restorer:  restorer,
		Audit:     e.audit,
		Notifier:  e.events,
		Now:       e.clock.Now,
	}
	for _, fn := range opts {
		fn(&o, e)
	}
	e.mgr = lifecycle.New(o)
}

func (e *env) auditCount(t *testing.T, action audit.Action) int64 {
	t.Helper()
	n, err := e.audit.Count(context.Background(), action)
	require.NoError(t, err)
	return n
}

var teacher = audit.UserActor(7, "10.0.0.5")

func pruneFixture() testutil.Fixture {
	return testutil.Fixture{
		Students: 2,
		Subjects: 2,
		Grades:   map[string]int{"2023/2024": 10, "2024/2025": 5},
		Reports:  map[string]int{"2023/2024": 3},
		Settings: map[string]string{"school_name": "SD Negeri 1"},
	}
}

func TestPrune_DeletesOnlyTheYear(t *testing.T) {
	e := newEnv(t, pruneFixture())
	ctx := context.Background()

	res, err := e.mgr.Prune(ctx, "2023/2024", "yes", teacher)
	require.NoError(t, err)

	assert.Equal(t, lifecycle.StatusCommitted, res.Status)
	assert.Equal(t, map[string]int64{db.TableGrades: 10, db.TableReportRecords: 3}, res.Counts)
	assert.Equal(t, "Deleted 10 grades, 3 reports for academic year 2023/2024.", res.Message)
	assert.NotEmpty(t, res.OperationID)
	assert.Empty(t, res.Warnings)

	assert.Zero(t, testutil.Count(t, e.storePath, db.TableGrades, "2023/2024"))
	assert.EqualValues(t, 5, testutil.Count(t, e.storePath, db.TableGrades, "2024/2025"))
	assert.Zero(t, testutil.Count(t, e.storePath, db.TableReportRecords, ""))
	assert.EqualValues(t, 2, testutil.Count(t, e.storePath, db.TableStudents, ""))
	assert.EqualValues(t, 1, testutil.Count(t, e.storePath, db.TableSettings, ""))

	// The safety snapshot holds exactly what was deleted.
	require.NotEmpty(t, res.SafetySnapshot)
	assert.Contains(t, res.SafetySnapshot, "_Year-2023-2024_")
	snap := filepath.Join(e.backupDir, res.SafetySnapshot)
	assert.EqualValues(t, 10, testutil.Count(t, snap, db.TableGrades, ""))
	assert.EqualValues(t, 3, testutil.Count(t, snap, db.TableReportRecords, ""))

	entries, err := e.audit.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionPrune, entries[0].Action)
	assert.Equal(t, audit.StatusSuccess, entries[0].Status)
	assert.Equal(t, "2023/2024", entries[0].Target)
	assert.Equal(t, "10 grades, 3 reports", entries[0].Detail)
	assert.Equal(t, "10.0.0.5", entries[0].IPAddress)
	require.NotNil(t, entries[0].ActorID)
	assert.EqualValues(t, 7, *entries[0].ActorID)

	journal, err := e.audit.Journal().Entries()
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, res.OperationID, journal[0].OperationID)

	ev := e.events.last()
	assert.Equal(t, notify.StatusSuccess, ev.Status)
	assert.Equal(t, "Prune", ev.Operation)
	assert.Equal(t, "user:7", ev.Actor)
}

func TestPrune_NothingToDo(t *testing.T) {
	e := newEnv(t, pruneFixture())

	res, err := e.mgr.Prune(context.Background(), "2020/2021", "YES", teacher)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusNothingToDo, res.Status)
	assert.Empty(t, res.SafetySnapshot)

	assert.Zero(t, e.auditCount(t, ""))
	snaps, err := e.mgr.ListSnapshots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestPrune_RejectsBadInput(t *testing.T) {
	e := newEnv(t, pruneFixture())
	ctx := context.Background()

	tests := []struct {
		name    string
		year    string
		confirm string
		want    error
	}{
		{"empty year", "", "YES", apperrors.ErrInvalidScope},
		{"malformed year", "2023-2024", "YES", apperrors.ErrInvalidScope},
		{"non consecutive", "2023/2025", "YES", apperrors.ErrInvalidScope},
		{"missing token", "2023/2024", "", apperrors.ErrConfirmationMismatch},
		{"reset token", "2023/2024", "RESET", apperrors.ErrConfirmationMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.mgr.Prune(ctx, tt.year, tt.confirm, teacher)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.EqualValues(t, 10, testutil.Count(t, e.storePath, db.TableGrades, "2023/2024"))
	assert.Zero(t, e.auditCount(t, ""))
}

func TestPrune_FailureRollsBack(t *testing.T) {
	e := newEnv(t, pruneFixture())
	testutil.FailDeletesOn(t, e.storePath, db.TableReportRecords)

	res, err := e.mgr.Prune(context.Background(), "2023/2024", "YES", teacher)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrOperationFailed)

	// grades were deleted first inside the transaction; the rollback
	// restores them.
	assert.EqualValues(t, 10, testutil.Count(t, e.storePath, db.TableGrades, "2023/2024"))
	assert.EqualValues(t, 3, testutil.Count(t, e.storePath, db.TableReportRecords, "2023/2024"))

	entries, err := e.audit.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusFailed, entries[0].Status)
	assert.Contains(t, entries[0].Detail, "injected failure")

	assert.Equal(t, notify.StatusError, e.events.last().Status)
}

func TestReset_KeepsReferenceData(t *testing.T) {
	e := newEnv(t, testutil.Fixture{
		Students: 3,
		Subjects: 4,
		Grades:   map[string]int{"2023/2024": 4, "2024/2025": 3},
		Reports:  map[string]int{"2024/2025": 2},
		Settings: map[string]string{"school_name": "SD Negeri 1"},
		Users:    []string{"admin"},
	})
	ctx := context.Background()

	_, err := e.mgr.Reset(ctx, "YES", teacher)
	assert.ErrorIs(t, err, apperrors.ErrConfirmationMismatch)

	res, err := e.mgr.Reset(ctx, "reset", teacher)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCommitted, res.Status)
	assert.Equal(t, "Deleted 3 students, 7 grades, 2 reports.", res.Message)
	assert.Contains(t, res.SafetySnapshot, "pre-reset_auto")

	for _, table := range []string{db.TableStudents, db.TableGrades, db.TableReportRecords} {
		assert.Zero(t, testutil.Count(t, e.storePath, table, ""), table)
	}
	assert.EqualValues(t, 4, testutil.Count(t, e.storePath, db.TableSubjects, ""))
	assert.EqualValues(t, 1, testutil.Count(t, e.storePath, db.TableSettings, ""))
	assert.EqualValues(t, 1, testutil.Count(t, e.storePath, db.TableUsers, ""))

	entries, err := e.audit.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionReset, entries[0].Action)
	assert.Equal(t, "3 students, 7 grades, 2 reports", entries[0].Detail)

	// The full safety snapshot still has everything.
	snap := filepath.Join(e.backupDir, res.SafetySnapshot)
	assert.EqualValues(t, 3, testutil.Count(t, snap, db.TableStudents, ""))
	assert.EqualValues(t, 7, testutil.Count(t, snap, db.TableGrades, ""))

	again, err := e.mgr.Reset(ctx, "RESET", teacher)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusNothingToDo, again.Status)
}

func TestSafetySnapshotFailure(t *testing.T) {
	// A regular file where the snapshot directory should be.
	blockDir := func(t *testing.T) envOption {
		return func(_ *lifecycle.Options, e *env) {
			require.NoError(t, os.WriteFile(e.backupDir, []byte("x"), 0o600))
		}
	}

	t.Run("best effort", func(t *testing.T) {
		e := newEnv(t, pruneFixture(), blockDir(t))
		res, err := e.mgr.Prune(context.Background(), "2023/2024", "YES", audit.System)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusCommitted, res.Status)
		assert.Empty(t, res.SafetySnapshot)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "safety snapshot failed")
		assert.Zero(t, testutil.Count(t, e.storePath, db.TableGrades, "2023/2024"))
	})

	t.Run("strict", func(t *testing.T) {
		e := newEnv(t, pruneFixture(), blockDir(t), withStrictSafety())
		_, err := e.mgr.Prune(context.Background(), "2023/2024", "YES", audit.System)
		assert.ErrorIs(t, err, apperrors.ErrOperationFailed)
		assert.EqualValues(t, 10, testutil.Count(t, e.storePath, db.TableGrades, "2023/2024"))

		entries, err := e.audit.List(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, audit.StatusFailed, entries[0].Status)
		assert.Nil(t, entries[0].ActorID)
	})
}

func TestAnalyze(t *testing.T) {
	e := newEnv(t, pruneFixture())
	ctx := context.Background()

	rep, err := e.mgr.Analyze(ctx, "2023/2024")
	require.NoError(t, err)
	assert.Equal(t, "2023/2024", rep.Scope)
	assert.Equal(t, lifecycle.RiskHigh, rep.Risk)
	assert.EqualValues(t, 13, rep.Total)
	assert.EqualValues(t, 10, rep.Counts[db.TableGrades])

	rep, err = e.mgr.Analyze(ctx, "2019/2020")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.RiskNone, rep.Risk)
	assert.Zero(t, rep.Total)

	rep, err = e.mgr.Analyze(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ScopeAll, rep.Scope)
	assert.EqualValues(t, 2, rep.Counts[db.TableStudents])
	assert.EqualValues(t, 15, rep.Counts[db.TableGrades])

	_, err = e.mgr.Analyze(ctx, "2023")
	assert.ErrorIs(t, err, apperrors.ErrInvalidScope)

	// Analysis never writes.
	assert.EqualValues(t, 15, testutil.Count(t, e.storePath, db.TableGrades, ""))
}

func TestAnalyze_MissingStore(t *testing.T) {
	e := newEnv(t, testutil.Fixture{})
	require.NoError(t, os.Remove(e.storePath))

	_, err := e.mgr.Analyze(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrStoreNotFound)
}

func TestRestoreSnapshot_RoundTrip(t *testing.T) {
	e := newEnv(t, pruneFixture())
	ctx := context.Background()

	built, err := e.mgr.CreateSnapshot(ctx, backup.BuildOptions{Description: "before cleanup"})
	require.NoError(t, err)

	_, err = e.mgr.Prune(ctx, "2023/2024", "YES", teacher)
	require.NoError(t, err)
	e.clock.Advance(time.Minute)

	res, err := e.mgr.RestoreSnapshot(ctx, built.Name, teacher)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCommitted, res.Status)
	assert.NotEmpty(t, res.SafetySnapshot)
	assert.EqualValues(t, 10, testutil.Count(t, e.storePath, db.TableGrades, "2023/2024"))
	first := storeCounts(t, e.storePath)

	// Restoring the same snapshot twice gives the same data.
	_, err = e.mgr.RestoreSnapshot(ctx, built.Name, teacher)
	require.NoError(t, err)
	assert.EqualValues(t, 15, testutil.Count(t, e.storePath, db.TableGrades, ""))
	assert.Equal(t, first, storeCounts(t, e.storePath))
	for _, year := range []string{"2023/2024", "2024/2025"} {
		assert.Equal(t, testutil.Count(t, built.Path, db.TableGrades, year), testutil.Count(t, e.storePath, db.TableGrades, year), year)
		assert.Equal(t, testutil.Count(t, built.Path, db.TableReportRecords, year), testutil.Count(t, e.storePath, db.TableReportRecords, year), year)
	}

	// The restored store predates the prune, so only the second restore is
	// in its table; the journal kept every entry.
	assert.EqualValues(t, 1, e.auditCount(t, audit.ActionRestore))
	assert.Zero(t, e.auditCount(t, audit.ActionPrune))

	journal, err := e.audit.Journal().Entries()
	require.NoError(t, err)
	assert.Len(t, journal, 3)
	n, err := e.audit.Journal().Verify()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRestoreSnapshot_UnknownName(t *testing.T) {
	e := newEnv(t, pruneFixture())

	_, err := e.mgr.RestoreSnapshot(context.Background(), "../data.sqlite", teacher)
	assert.ErrorIs(t, err, apperrors.ErrInvalidBackup)

	entries, err := e.audit.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionRestore, entries[0].Action)
	assert.Equal(t, audit.StatusFailed, entries[0].Status)
}

func TestRestoreUpload(t *testing.T) {
	e := newEnv(t, pruneFixture())
	ctx := context.Background()

	good := testutil.NewSeededStore(t, testutil.Fixture{Students: 1, Subjects: 1, Grades: map[string]int{"2024/2025": 2}})
	raw, err := os.ReadFile(good)
	require.NoError(t, err)

	t.Run("truncated upload is rejected", func(t *testing.T) {
		_, err := e.mgr.RestoreUpload(ctx, bytes.NewReader(raw[:len(raw)/2]), "upload.sqlite", teacher)
		assert.ErrorIs(t, err, apperrors.ErrInvalidBackup)
		assert.EqualValues(t, 15, testutil.Count(t, e.storePath, db.TableGrades, ""))
		_, statErr := os.Stat(e.storePath + storage.RestoreTempExt)
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	})

	t.Run("valid upload replaces the store", func(t *testing.T) {
		res, err := e.mgr.RestoreUpload(ctx, bytes.NewReader(raw), "Rapor Semester 1.sqlite", teacher)
		require.NoError(t, err)
		assert.Equal(t, "Restored live store from Rapor_Semester_1.sqlite.", res.Message)
		assert.EqualValues(t, 2, testutil.Count(t, e.storePath, db.TableGrades, ""))
		assert.NotEmpty(t, res.SafetySnapshot)
	})
}

func TestDeleteSnapshot(t *testing.T) {
	e := newEnv(t, pruneFixture())
	ctx := context.Background()

	built, err := e.mgr.CreateSnapshot(ctx, backup.BuildOptions{})
	require.NoError(t, err)

	ok, err := e.mgr.DeleteSnapshot(ctx, built.Name, teacher)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.mgr.DeleteSnapshot(ctx, built.Name, teacher)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.EqualValues(t, 1, e.auditCount(t, audit.ActionDelete))
	assert.Equal(t, "Delete snapshot", e.events.last().Operation)
}

func TestScheduledSnapshotAppliesRetention(t *testing.T) {
	e := newEnv(t, pruneFixture(), withRetention(config.Retention{Keep: 2}))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, e.mgr.ScheduledSnapshot(ctx, "scheduled"))
		e.clock.Advance(time.Hour)
	}

	snaps, err := e.mgr.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].CreatedAt.After(snaps[1].CreatedAt))

	entries, err := e.audit.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, en := range entries {
		assert.Equal(t, audit.ActionDelete, en.Action)
		assert.Nil(t, en.ActorID)
		assert.Equal(t, "removed by retention policy", en.Detail)
	}

	removed, err := e.mgr.ApplyRetention(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestApplyRetention_Disabled(t *testing.T) {
	e := newEnv(t, pruneFixture())
	_, err := e.mgr.CreateSnapshot(context.Background(), backup.BuildOptions{})
	require.NoError(t, err)

	removed, err := e.mgr.ApplyRetention(context.Background())
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSweep(t *testing.T) {
	e := newEnv(t, pruneFixture())
	require.NoError(t, os.MkdirAll(e.backupDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.backupDir, "backup_eraport_x.sqlite.tmp"), nil, 0o600))
	require.NoError(t, os.WriteFile(e.storePath+storage.RestoreTempExt, nil, 0o600))

	n, err := e.mgr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.mgr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentSnapshotsGetDistinctNames(t *testing.T) {
	e := newEnv(t, pruneFixture())
	ctx := context.Background()

	var wg sync.WaitGroup
	names := make([]string, 4)
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			built, err := e.mgr.CreateSnapshot(ctx, backup.BuildOptions{})
			if assert.NoError(t, err) {
				names[i] = built.Name
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "duplicate snapshot name %s", n)
		seen[n] = true
	}
}

// storeCounts returns the row count of every table in the store at path.
func storeCounts(t *testing.T, path string) map[string]int64 {
	t.Helper()
	conn, err := db.OpenReadOnly(context.Background(), path)
	require.NoError(t, err)
	defer conn.Close()

	counts, err := db.TableCounts(context.Background(), conn)
	require.NoError(t, err)
	return counts
}
