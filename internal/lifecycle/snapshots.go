package lifecycle

import (
	"context"
	"fmt"
	"io"

	"github.com/Sandiman184/e-raport/internal/audit"
	"github.com/Sandiman184/e-raport/internal/backup"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/metrics"
	"github.com/Sandiman184/e-raport/internal/notify"
	"github.com/Sandiman184/e-raport/internal/storage"
)

// ListSnapshots reads the snapshot directory without taking the lock.
func (m *Manager) ListSnapshots(ctx context.Context) ([]storage.Snapshot, error) {
	return m.Store().List(ctx)
}

// CreateSnapshot takes a manual or scheduled snapshot.
func (m *Manager) CreateSnapshot(ctx context.Context, opts backup.BuildOptions) (*backup.Built, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSnapshot(ctx, opts)
}

func (m *Manager) createSnapshot(ctx context.Context, opts backup.BuildOptions) (*backup.Built, error) {
	start := m.opts.Now()
	built, err := m.opts.Builder.Create(ctx, opts)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.RecordOperation(string(OpSnapshot), status, m.opts.Now().Sub(start))

	// Corrupt output is worth an alert; a bad year argument is not.
	if apperrors.IsType(err, apperrors.TypeBackupCorrupt) {
		m.notify(ctx, notify.Event{
			Status:    notify.StatusError,
			Operation: operationTitle(OpSnapshot),
			Target:    opts.Year,
			Error:     err.Error(),
			Duration:  m.opts.Now().Sub(start),
			Timestamp: m.opts.Now(),
		})
	}
	return built, err
}

// RestoreSnapshot replaces the live store with a snapshot from the
// snapshot directory.
func (m *Manager) RestoreSnapshot(ctx context.Context, name string, actor audit.Actor) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.restore(ctx, name, actor, func() (*backup.Restored, error) {
		return m.opts.Restorer.FromSnapshot(ctx, name)
	})
}

// RestoreUpload replaces the live store with an uploaded database file.
func (m *Manager) RestoreUpload(ctx context.Context, src io.Reader, filename string, actor audit.Actor) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := storage.SecureFilename(filename)
	if target == "" {
		target = "upload"
	}
	return m.restore(ctx, target, actor, func() (*backup.Restored, error) {
		return m.opts.Restorer.FromUpload(ctx, src, filename)
	})
}

// restore has no separate confirmation step: the caller's request is the
// confirmation, so the request goes straight to EXECUTING.
func (m *Manager) restore(ctx context.Context, target string, actor audit.Actor, run func() (*backup.Restored, error)) (*Result, error) {
	start := m.opts.Now()
	req := newRequest(OpRestore, target, actor)
	for _, s := range []State{StateAnalyzed, StateConfirmed, StateExecuting} {
		if err := req.Advance(s); err != nil {
			return nil, err
		}
	}

	restored, err := run()
	if err != nil {
		req.fail()
		m.recordFailure(ctx, req, err)
		m.finish(ctx, req, nil, err, start)
		return nil, err
	}
	if err := req.Advance(StateCommitted); err != nil {
		return nil, err
	}

	res := &Result{
		OperationID:    req.ID,
		Operation:      OpRestore,
		Status:         StatusCommitted,
		Message:        fmt.Sprintf("Restored live store from %s.", restored.Source),
		SafetySnapshot: restored.SafetySnapshot,
		Warnings:       restored.Warnings,
	}

	detail := fmt.Sprintf("restored %d bytes from %s", restored.Bytes, restored.Source)
	if restored.SafetySnapshot != "" {
		detail += ", safety snapshot " + restored.SafetySnapshot
	}
	// The entry lands in the restored store; the journal keeps it even if
	// that store has no audit table.
	if err := m.opts.Audit.Record(ctx, *m.entry(req, audit.StatusSuccess, detail)); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("audit entry not stored in database: %v", err))
		m.opts.Logger.Warn("restored store did not accept the audit entry", "error", err)
	}
	m.finish(ctx, req, res, nil, start)
	return res, nil
}

// DeleteSnapshot removes a snapshot and its manifest. It reports false when
// nothing by that name existed; only actual deletions are audited.
func (m *Manager) DeleteSnapshot(ctx context.Context, name string, actor audit.Actor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteSnapshot(ctx, name, actor, "deleted by operator")
}

func (m *Manager) deleteSnapshot(ctx context.Context, name string, actor audit.Actor, reason string) (bool, error) {
	deleted, delErr := m.Store().Delete(ctx, name)
	if !deleted {
		return false, delErr
	}

	if m.opts.Mirror != nil {
		if err := m.opts.Mirror.Forget(ctx, name); err != nil {
			m.opts.Logger.Warn("failed to delete offsite copy", "file", name, "target", m.opts.Mirror.Location(), "error", err)
		}
	}

	req := newRequest(OpDelete, name, actor)
	if err := m.opts.Audit.Record(ctx, *m.entry(req, audit.StatusSuccess, reason)); err != nil {
		m.opts.Logger.Warn("failed to audit snapshot deletion", "file", name, "error", err)
	}
	m.notify(ctx, notify.Event{
		Status:      notify.StatusSuccess,
		Operation:   operationTitle(OpDelete),
		Target:      name,
		Detail:      reason,
		Actor:       actorLabel(actor),
		OperationID: req.ID,
		Timestamp:   m.opts.Now(),
	})
	return true, delErr
}
