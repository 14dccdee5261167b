package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sandiman184/e-raport/internal/audit"
	"github.com/Sandiman184/e-raport/internal/backup"
	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/db"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/logger"
	"github.com/Sandiman184/e-raport/internal/metrics"
	"github.com/Sandiman184/e-raport/internal/notify"
	"github.com/Sandiman184/e-raport/internal/storage"
)

type Options struct {
	StorePath string
	Builder   *backup.Builder
	Restorer  *backup.Restorer
	Audit     *audit.Log
	Mirror    *storage.Mirror // optional, offsite copies are forgotten on delete
	Notifier  notify.Notifier // optional
	Retention config.Retention
	// StrictSafetyBackup aborts prune and reset when their safety snapshot
	// cannot be taken.
	StrictSafetyBackup bool
	Logger             *logger.Logger
	Now                func() time.Time
}

// Manager is the single writer of the live store. All mutating methods hold
// one process-wide mutex for their whole duration; read-only methods take no
// lock. No connection outlives a call.
type Manager struct {
	mu   sync.Mutex
	opts Options
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Audit == nil {
		opts.Audit = audit.New(audit.Options{StorePath: opts.StorePath, Logger: opts.Logger, Now: opts.Now})
	}
	return &Manager{opts: opts}
}

func (m *Manager) Store() *storage.SnapshotStore {
	return m.opts.Builder.Store()
}

func (m *Manager) StorePath() string {
	return m.opts.StorePath
}

func (m *Manager) Audit() *audit.Log {
	return m.opts.Audit
}

// Analyze previews a prune of year, or a reset when year is empty.
func (m *Manager) Analyze(ctx context.Context, year string) (*ImpactReport, error) {
	if year == "" {
		return m.analyze(ctx, "", db.ResetTables)
	}
	y, err := db.ParseYear(year)
	if err != nil {
		return nil, err
	}
	return m.analyze(ctx, y, db.YearScopedTables)
}

func (m *Manager) analyze(ctx context.Context, year string, tables []string) (*ImpactReport, error) {
	if err := db.Exists(m.opts.StorePath); err != nil {
		return nil, err
	}
	conn, err := db.OpenReadOnly(ctx, m.opts.StorePath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rep := &ImpactReport{Scope: ScopeAll, Counts: make(map[string]int64, len(tables)), Risk: RiskNone}
	if year != "" {
		rep.Scope = year
	}
	for _, t := range tables {
		n, err := db.CountRows(ctx, conn, t, year)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to analyze impact", "")
		}
		rep.Counts[t] = n
		rep.Total += n
		if n > 0 {
			rep.Details = append(rep.Details, fmt.Sprintf("%d rows will be deleted from %s", n, t))
		}
	}
	if rep.Total > 0 {
		rep.Risk = RiskHigh
	}
	if year == "" {
		rep.Details = append(rep.Details, "subjects, settings, users and audit_logs are kept")
	} else {
		rep.Details = append(rep.Details, "students, subjects and settings are kept")
	}
	return rep, nil
}

// Prune deletes every grade and report record of one academic year.
func (m *Manager) Prune(ctx context.Context, year, confirm string, actor audit.Actor) (*Result, error) {
	req := newRequest(OpPrune, year, actor)
	y, err := db.ParseYear(year)
	if err != nil {
		req.fail()
		return nil, err
	}
	req.Scope = y

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroy(ctx, req, y, db.YearScopedTables, confirm, ConfirmPrune)
}

// Reset deletes all students with their grades and report records. Subjects,
// settings, users and the audit log survive.
func (m *Manager) Reset(ctx context.Context, confirm string, actor audit.Actor) (*Result, error) {
	req := newRequest(OpReset, ScopeAll, actor)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroy(ctx, req, "", db.ResetTables, confirm, ConfirmReset)
}

// destroy drives a prune or reset request from REQUESTED to a terminal
// state. The caller holds m.mu.
func (m *Manager) destroy(ctx context.Context, req *Request, year string, tables []string, confirm, token string) (*Result, error) {
	start := m.opts.Now()
	log := m.opts.Logger.With("operation", req.Op, "scope", req.Scope, "operation_id", req.ID)

	rep, err := m.analyze(ctx, year, tables)
	if err != nil {
		req.fail()
		return nil, err
	}
	req.Impact = rep
	if err := req.Advance(StateAnalyzed); err != nil {
		return nil, err
	}

	if !strings.EqualFold(strings.TrimSpace(confirm), token) {
		req.fail()
		return nil, apperrors.New(apperrors.TypeConfirmationMismatch,
			fmt.Sprintf("%s requires the confirmation token %q", req.Op, token),
			apperrors.ErrConfirmationMismatch.Hint)
	}
	if err := req.Advance(StateConfirmed); err != nil {
		return nil, err
	}

	res := &Result{OperationID: req.ID, Operation: req.Op}
	if rep.Total == 0 {
		if err := req.Advance(StateCommitted); err != nil {
			return nil, err
		}
		res.Status = StatusNothingToDo
		res.Counts = rep.Counts
		if year != "" {
			res.Message = fmt.Sprintf("No data for academic year %s.", year)
		} else {
			res.Message = "No student data to reset."
		}
		log.Info("nothing to delete")
		return res, nil
	}

	if err := m.safetySnapshot(ctx, req, year, res); err != nil {
		req.fail()
		m.recordFailure(ctx, req, err)
		m.finish(ctx, req, nil, err, start)
		return nil, err
	}

	if err := req.Advance(StateExecuting); err != nil {
		return nil, err
	}

	counts, entry, err := m.deleteRows(ctx, req, year, tables)
	if err != nil {
		req.fail()
		log.Error("rolled back", "error", err)
		m.recordFailure(ctx, req, err)
		opErr := apperrors.Wrap(err, apperrors.TypeOperationFailed,
			fmt.Sprintf("%s of %s failed and was rolled back", req.Op, req.Scope),
			apperrors.ErrOperationFailed.Hint)
		m.finish(ctx, req, nil, opErr, start)
		return nil, opErr
	}
	m.opts.Audit.Journaled(*entry)
	if err := req.Advance(StateCommitted); err != nil {
		return nil, err
	}

	res.Status = StatusCommitted
	res.Counts = counts
	if year != "" {
		res.Message = fmt.Sprintf("Deleted %s for academic year %s.", countDetail(counts), year)
	} else {
		res.Message = fmt.Sprintf("Deleted %s.", countDetail(counts))
	}
	metrics.RecordDeleted(counts)
	log.Info("committed", "counts", counts, "safety_snapshot", res.SafetySnapshot)
	m.finish(ctx, req, res, nil, start)
	return res, nil
}

// safetySnapshot backs up what the request is about to delete: only the
// affected year for a prune, everything for a reset. A failure is a warning
// unless strict mode is on.
func (m *Manager) safetySnapshot(ctx context.Context, req *Request, year string, res *Result) error {
	trigger := backup.TriggerPrePrune
	if req.Op == OpReset {
		trigger = backup.TriggerPreReset
	}
	built, err := m.opts.Builder.Create(ctx, backup.BuildOptions{
		Description: fmt.Sprintf("pre-%s auto", req.Op),
		Year:        year,
		Trigger:     trigger,
	})
	if err != nil {
		metrics.SafetySnapshotFailures.WithLabelValues(string(req.Op)).Inc()
		if m.opts.StrictSafetyBackup {
			return apperrors.Wrap(err, apperrors.TypeOperationFailed,
				fmt.Sprintf("%s aborted: safety snapshot failed", req.Op),
				"strict_safety_backup is enabled. Fix the snapshot directory or disable strict mode.")
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("safety snapshot failed: %v", err))
		m.opts.Logger.Warn("safety snapshot failed, continuing", "operation", req.Op, "error", err)
		return nil
	}
	res.SafetySnapshot = built.Name
	res.Warnings = append(res.Warnings, built.Warnings...)
	return nil
}

// deleteRows runs the deletions and the SUCCESS audit insert in one
// transaction. On error nothing is committed.
func (m *Manager) deleteRows(ctx context.Context, req *Request, year string, tables []string) (map[string]int64, *audit.Entry, error) {
	conn, err := db.Open(ctx, m.opts.StorePath)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		n, err := db.DeleteRows(ctx, tx, t, year)
		if err != nil {
			return nil, nil, err
		}
		counts[t] = n
	}

	entry := m.entry(req, audit.StatusSuccess, countDetail(counts))
	if err := m.opts.Audit.RecordTx(ctx, tx, entry); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return counts, entry, nil
}

func (m *Manager) entry(req *Request, status audit.Status, detail string) *audit.Entry {
	action := audit.ActionPrune
	switch req.Op {
	case OpReset:
		action = audit.ActionReset
	case OpRestore:
		action = audit.ActionRestore
	case OpDelete:
		action = audit.ActionDelete
	}
	return &audit.Entry{
		ActorID:     req.Actor.UserID,
		Action:      action,
		Target:      req.Scope,
		Detail:      detail,
		IPAddress:   req.Actor.IPAddress,
		Status:      status,
		OperationID: req.ID,
	}
}

// recordFailure writes a FAILED entry in its own transaction, after the
// failed work was rolled back.
func (m *Manager) recordFailure(ctx context.Context, req *Request, cause error) {
	e := m.entry(req, audit.StatusFailed, cause.Error())
	if err := m.opts.Audit.Record(context.WithoutCancel(ctx), *e); err != nil {
		m.opts.Logger.Error("failed to record audit failure", "operation", req.Op, "error", err)
	}
}

// finish emits metrics and notifications for a terminal request.
func (m *Manager) finish(ctx context.Context, req *Request, res *Result, opErr error, start time.Time) {
	d := m.opts.Now().Sub(start)
	status := "success"
	if opErr != nil {
		status = "failed"
	}
	metrics.RecordOperation(string(req.Op), status, d)

	ev := notify.Event{
		Status:      notify.StatusSuccess,
		Operation:   operationTitle(req.Op),
		Target:      req.Scope,
		Actor:       actorLabel(req.Actor),
		Duration:    d,
		OperationID: req.ID,
		Timestamp:   m.opts.Now(),
	}
	if res != nil {
		ev.Detail = res.Message
		ev.SafetySnapshot = res.SafetySnapshot
	}
	if opErr != nil {
		ev.Status = notify.StatusError
		ev.Error = opErr.Error()
	}
	m.notify(ctx, ev)
}

func (m *Manager) notify(ctx context.Context, ev notify.Event) {
	if m.opts.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := m.opts.Notifier.Notify(ctx, ev); err != nil {
		m.opts.Logger.Warn("notification failed", "operation", ev.Operation, "error", err)
	}
}

func operationTitle(op Operation) string {
	switch op {
	case OpDelete:
		return "Delete snapshot"
	case OpSnapshot:
		return "Snapshot"
	}
	s := string(op)
	return strings.ToUpper(s[:1]) + s[1:]
}
