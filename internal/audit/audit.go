package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Sandiman184/e-raport/internal/db"
	"github.com/Sandiman184/e-raport/internal/logger"
)

// Log is the only write path for audit entries.
type Log struct {
	storePath string
	journal   *Journal
	logger    *logger.Logger
	now       func() time.Time
}

type Options struct {
	StorePath string
	Journal   *Journal // optional
	Logger    *logger.Logger
	Now       func() time.Time
}

func New(opts Options) *Log {
	l := &Log{
		storePath: opts.StorePath,
		journal:   opts.Journal,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if l.logger == nil {
		l.logger = logger.Nop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

func (l *Log) Journal() *Journal {
	return l.journal
}

func (l *Log) stamp(e *Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Status == "" {
		e.Status = StatusSuccess
	}
}

const insertSQL = `INSERT INTO audit_logs (user_id, action, target, details, ip_address, status, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func insert(ctx context.Context, q db.Querier, e *Entry) error {
	var actor sql.NullInt64
	if e.ActorID != nil {
		actor = sql.NullInt64{Int64: *e.ActorID, Valid: true}
	}
	res, err := q.ExecContext(ctx, insertSQL, actor, string(e.Action), e.Target, e.Detail, e.IPAddress, string(e.Status), e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// RecordTx inserts e inside tx, so the entry commits or rolls back with the
// change it describes. Call Journaled after the commit.
func (l *Log) RecordTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	l.stamp(e)
	return insert(ctx, tx, e)
}

// Journaled appends an already committed entry to the journal.
func (l *Log) Journaled(e Entry) {
	if l.journal == nil {
		return
	}
	if err := l.journal.Append(e); err != nil {
		l.logger.Error("failed to append audit journal", "action", e.Action, "error", err)
	}
}

// Record writes e in its own transaction and journals it. A journal
// failure is logged; a database failure is returned after the journal
// write, so the attempt is never lost entirely.
func (l *Log) Record(ctx context.Context, e Entry) error {
	l.stamp(&e)

	dbErr := l.insertOwnTx(ctx, &e)
	l.Journaled(e)

	l.logger.Info("audit",
		"action", e.Action,
		"status", e.Status,
		"target", e.Target,
		"detail", e.Detail,
		"operation_id", e.OperationID,
	)
	return dbErr
}

func (l *Log) insertOwnTx(ctx context.Context, e *Entry) error {
	conn, err := db.Open(ctx, l.storePath)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insert(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns up to limit entries from the live store, newest first.
// limit <= 0 means no limit.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := db.Exists(l.storePath); err != nil {
		return nil, err
	}
	conn, err := db.OpenReadOnly(ctx, l.storePath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	q := `SELECT id, user_id, action, COALESCE(target, ''), COALESCE(details, ''), COALESCE(ip_address, ''), status, timestamp
FROM audit_logs ORDER BY timestamp DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			actor sql.NullInt64
			act   string
			st    string
		)
		if err := rows.Scan(&e.ID, &actor, &act, &e.Target, &e.Detail, &e.IPAddress, &st, &e.Timestamp); err != nil {
			return nil, err
		}
		if actor.Valid {
			id := actor.Int64
			e.ActorID = &id
		}
		e.Action, e.Status = Action(act), Status(st)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns how many entries the live store holds for action, or all
// entries when action is empty.
func (l *Log) Count(ctx context.Context, action Action) (int64, error) {
	if err := db.Exists(l.storePath); err != nil {
		return 0, err
	}
	conn, err := db.OpenReadOnly(ctx, l.storePath)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var n int64
	if action == "" {
		err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs").Scan(&n)
	} else {
		err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs WHERE action = ?", string(action)).Scan(&n)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
