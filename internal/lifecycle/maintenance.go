package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sandiman184/e-raport/internal/audit"
	"github.com/Sandiman184/e-raport/internal/backup"
)

// ApplyRetention deletes the snapshots the retention policy no longer keeps
// and returns their names. Each deletion is audited with a nil actor.
func (m *Manager) ApplyRetention(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyRetention(ctx)
}

func (m *Manager) applyRetention(ctx context.Context) ([]string, error) {
	if !m.opts.Retention.Enabled() {
		return nil, nil
	}
	snaps, err := m.Store().List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		removed []string
		errs    []error
	)
	for _, s := range backup.Expired(snaps, m.opts.Retention, m.opts.Now()) {
		ok, err := m.deleteSnapshot(ctx, s.Name, audit.System, "removed by retention policy")
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", s.Name, err))
			continue
		}
		if ok {
			removed = append(removed, s.Name)
		}
	}
	if len(removed) > 0 {
		m.opts.Logger.Info("retention applied", "removed", len(removed), "kept", len(snaps)-len(removed))
	}
	return removed, errors.Join(errs...)
}

// ScheduledSnapshot is the body of the cron job: a full snapshot followed
// by retention. Retention is skipped when the snapshot failed.
func (m *Manager) ScheduledSnapshot(ctx context.Context, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.createSnapshot(ctx, backup.BuildOptions{
		Description: description,
		Trigger:     backup.TriggerScheduled,
	}); err != nil {
		return err
	}
	_, err := m.applyRetention(ctx)
	return err
}

// Sweep removes temp artifacts left behind by interrupted snapshots and
// restores.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Store().SweepTemp(ctx, m.opts.Restorer.TempPath())
}
