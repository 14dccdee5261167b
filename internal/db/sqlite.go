package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	_ "github.com/mattn/go-sqlite3"
)

// DSN builds a file: URI for path. mode is one of ro, rw or rwc.
func DSN(path, mode string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("mode", mode)
	if mode != "ro" {
		q.Set("_foreign_keys", "on")
		q.Set("_busy_timeout", "5000")
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

// Exists returns a StoreNotFound error unless path is a regular file.
func Exists(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(err, apperrors.TypeStoreNotFound, fmt.Sprintf("live store %s does not exist", path), apperrors.ErrStoreNotFound.Hint)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeInternal, "failed to stat live store", "Check file permissions.")
	}
	if info.IsDir() {
		return apperrors.New(apperrors.TypeStoreNotFound, fmt.Sprintf("live store %s is a directory", path), "Point store_path at the database file.")
	}
	return nil
}

// Open opens an existing database read-write. It never creates the file.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if err := Exists(path); err != nil {
		return nil, err
	}
	return open(ctx, path, "rw")
}

// OpenReadOnly opens path without write access.
func OpenReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	return open(ctx, path, "ro")
}

func open(ctx context.Context, path, mode string) (*sql.DB, error) {
	dsn, err := DSN(path, mode)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return conn, nil
}

// Checkpoint folds any WAL content into the main file. It is a no-op for
// databases in rollback-journal mode.
func Checkpoint(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// CopyConsistent streams the database file at src to w while holding a read
// transaction, so no writer can commit until the copy completes.
func CopyConsistent(ctx context.Context, src string, w io.Writer) (int64, error) {
	conn, err := Open(ctx, src)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := Checkpoint(ctx, conn); err != nil {
		return 0, err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback()

	// Deferred transactions take the SHARED lock on first read.
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&n); err != nil {
		return 0, fmt.Errorf("acquire read lock: %w", err)
	}

	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return io.Copy(w, f)
}

// FilterToYear deletes every row of the year-scoped tables in the database
// at path whose year is not year, then compacts the file. Other tables are
// left untouched. It returns the number of rows removed per table.
func FilterToYear(ctx context.Context, path, year string) (map[string]int64, error) {
	conn, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	removed := map[string]int64{}
	for _, t := range YearScopedTables {
		ok, err := HasTable(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(t)+" WHERE year IS NOT ?", year)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", t, err)
		}
		n, _ := res.RowsAffected()
		removed[t] = n
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit year filter: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
		return nil, fmt.Errorf("vacuum: %w", err)
	}
	return removed, nil
}

// SidecarPaths are the journal files SQLite may keep next to a database.
func SidecarPaths(path string) []string {
	return []string{path + "-wal", path + "-shm", path + "-journal"}
}
