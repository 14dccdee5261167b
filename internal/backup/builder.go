package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vbauerster/mpb/v8"

	"github.com/Sandiman184/e-raport/internal/db"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/logger"
	"github.com/Sandiman184/e-raport/internal/manifest"
	"github.com/Sandiman184/e-raport/internal/metrics"
	"github.com/Sandiman184/e-raport/internal/storage"
)

type BuilderOptions struct {
	AppName   string
	StorePath string
	Store     *storage.SnapshotStore
	Verifier  *db.Verifier
	Mirror    *storage.Mirror // optional offsite copy
	Logger    *logger.Logger
	Progress  *mpb.Progress // optional, CLI only
	Now       func() time.Time
}

// Builder produces snapshots of the live store. A snapshot only ever
// appears under its final name after it passed verification.
type Builder struct {
	opts BuilderOptions
}

func NewBuilder(opts BuilderOptions) *Builder {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Verifier == nil {
		opts.Verifier = db.NewVerifier()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AppName == "" {
		opts.AppName = "eraport"
	}
	return &Builder{opts: opts}
}

func (b *Builder) Store() *storage.SnapshotStore {
	return b.opts.Store
}

// Create copies the live store into a new snapshot, optionally keeping only
// one academic year in the year-scoped tables.
func (b *Builder) Create(ctx context.Context, opts BuildOptions) (*Built, error) {
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	scope := "full"
	if opts.Year != "" {
		year, err := db.ParseYear(opts.Year)
		if err != nil {
			return nil, err
		}
		opts.Year = year
		scope = "year"
	}

	if err := db.Exists(b.opts.StorePath); err != nil {
		metrics.SnapshotFailures.WithLabelValues(string(opts.Trigger), "store_missing").Inc()
		return nil, err
	}

	log := b.opts.Logger.With("trigger", opts.Trigger, "year", opts.Year)
	start := b.opts.Now()
	name := storage.SnapshotName(b.opts.AppName, start, opts.Year, opts.Description)

	pending, err := b.opts.Store.Create(name)
	if err != nil {
		metrics.SnapshotFailures.WithLabelValues(string(opts.Trigger), "io").Inc()
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to create snapshot file", "Check that backup_dir is writable.")
	}

	var total int64
	if info, err := os.Stat(b.opts.StorePath); err == nil {
		total = info.Size()
	}
	w, done := wrapProgress(b.opts.Progress, pending, pending.Name, total)
	n, err := db.CopyConsistent(ctx, b.opts.StorePath, w)
	done()
	if err != nil {
		b.opts.Store.Abort(pending)
		metrics.SnapshotFailures.WithLabelValues(string(opts.Trigger), "copy").Inc()
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to copy live store", "")
	}
	if err := pending.Close(); err != nil {
		b.opts.Store.Abort(pending)
		metrics.SnapshotFailures.WithLabelValues(string(opts.Trigger), "io").Inc()
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to flush snapshot", "Check free disk space.")
	}
	log.Debug("copied live store", "bytes", n, "tmp", pending.TmpPath)

	if opts.Year != "" {
		removed, err := db.FilterToYear(ctx, pending.TmpPath, opts.Year)
		if err != nil {
			b.opts.Store.Abort(pending)
			metrics.SnapshotFailures.WithLabelValues(string(opts.Trigger), "filter").Inc()
			return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to filter snapshot by year", "")
		}
		log.Debug("filtered snapshot", "removed", removed)
	}

	path, err := b.opts.Store.Commit(pending)
	if err != nil {
		metrics.SnapshotFailures.WithLabelValues(string(opts.Trigger), "io").Inc()
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to finalize snapshot", "")
	}

	if v := b.opts.Verifier.Verify(ctx, path); !v.OK {
		os.Remove(path)
		metrics.SnapshotFailures.WithLabelValues(string(opts.Trigger), "verify").Inc()
		log.Error("snapshot failed verification and was deleted", "file", pending.Name, "reason", v.Message)
		return nil, apperrors.New(apperrors.TypeBackupCorrupt,
			fmt.Sprintf("snapshot %s failed verification: %s", pending.Name, v.Message),
			apperrors.ErrBackupCorrupt.Hint)
	}

	built := &Built{}
	m, err := b.writeManifest(ctx, path, opts)
	if err != nil {
		built.Warnings = append(built.Warnings, fmt.Sprintf("manifest not written: %v", err))
		log.Warn("failed to write manifest", "file", pending.Name, "error", err)
	}

	if b.opts.Mirror != nil {
		loc, err := b.opts.Mirror.Push(ctx, path)
		if err != nil {
			metrics.MirrorUploads.WithLabelValues("failed").Inc()
			built.Warnings = append(built.Warnings, fmt.Sprintf("offsite copy failed: %v", err))
			log.Warn("offsite copy failed", "file", pending.Name, "target", b.opts.Mirror.Location(), "error", err)
		} else {
			metrics.MirrorUploads.WithLabelValues("success").Inc()
			log.Info("offsite copy uploaded", "location", loc)
			if m != nil {
				m.Mirror = loc
				if err := manifest.Write(path, m); err != nil {
					log.Warn("failed to record mirror location", "error", err)
				}
			}
		}
	}

	snap, err := b.opts.Store.Stat(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	built.Snapshot = snap

	metrics.RecordSnapshot(string(opts.Trigger), scope, snap.Size, start)
	log.Info("snapshot created", "file", snap.Name, "size", snap.Size, "duration", b.opts.Now().Sub(start))
	return built, nil
}

func (b *Builder) writeManifest(ctx context.Context, path string, opts BuildOptions) (*manifest.Manifest, error) {
	m := manifest.New(uuid.NewString(), b.opts.AppName, filepath.Base(path))
	m.Year = opts.Year
	m.Description = opts.Description
	m.Trigger = string(opts.Trigger)
	m.CreatedAt = b.opts.Now()

	sum, err := manifest.FileChecksum(path)
	if err != nil {
		return nil, err
	}
	m.Checksum = sum
	if info, err := os.Stat(path); err == nil {
		m.Size = info.Size()
	}

	conn, err := db.OpenReadOnly(ctx, path)
	if err != nil {
		return nil, err
	}
	counts, err := db.TableCounts(ctx, conn)
	conn.Close()
	if err != nil {
		return nil, err
	}
	m.RowCounts = counts

	if err := manifest.Write(path, m); err != nil {
		return nil, err
	}
	return m, nil
}
