package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vbauerster/mpb/v8"

	"github.com/Sandiman184/e-raport/internal/db"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/logger"
	"github.com/Sandiman184/e-raport/internal/metrics"
	"github.com/Sandiman184/e-raport/internal/storage"
)

const DefaultMaxUploadBytes = 16 << 20

type RestorerOptions struct {
	StorePath      string
	Builder        *Builder
	Verifier       *db.Verifier
	MaxUploadBytes int64
	Logger         *logger.Logger
	Progress       *mpb.Progress
}

// Restorer replaces the live store with a verified snapshot or upload. The
// swap is a rename of a fully written and verified temp file, so the live
// store is either the old file or the new one.
type Restorer struct {
	opts RestorerOptions
}

func NewRestorer(opts RestorerOptions) *Restorer {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Verifier == nil {
		opts.Verifier = db.NewVerifier()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Restorer{opts: opts}
}

// TempPath is where a candidate is staged before the swap.
func (r *Restorer) TempPath() string {
	return r.opts.StorePath + storage.RestoreTempExt
}

func invalidBackup(source, reason string) error {
	return apperrors.New(apperrors.TypeInvalidBackup,
		fmt.Sprintf("%s is not a valid backup: %s", source, reason),
		apperrors.ErrInvalidBackup.Hint)
}

// FromSnapshot restores the snapshot called name.
func (r *Restorer) FromSnapshot(ctx context.Context, name string) (*Restored, error) {
	snap, err := r.opts.Builder.Store().Stat(name)
	if err != nil {
		return nil, err
	}
	if v := r.opts.Verifier.Verify(ctx, snap.Path); !v.OK {
		return nil, invalidBackup(name, v.Message)
	}
	if snap.Manifest != nil {
		if err := snap.Manifest.VerifyFile(snap.Path); err != nil {
			return nil, invalidBackup(name, err.Error())
		}
	}

	res := &Restored{Source: name}
	r.safetySnapshot(ctx, res)

	src, err := os.Open(snap.Path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInvalidBackup, "failed to open snapshot", "")
	}
	defer src.Close()

	n, err := r.stage(src, snap.Size, -1)
	if err != nil {
		return nil, err
	}
	res.Bytes = n

	if err := r.swap(ctx, name); err != nil {
		return nil, err
	}
	r.opts.Logger.Info("live store restored", "source", name, "bytes", n, "safety_snapshot", res.SafetySnapshot)
	return res, nil
}

// FromUpload restores from an untrusted stream. Anything over the upload
// limit or failing verification is rejected before the live store is
// touched.
func (r *Restorer) FromUpload(ctx context.Context, src io.Reader, filename string) (*Restored, error) {
	source := storage.SecureFilename(filename)
	if source == "" {
		source = "upload"
	}

	n, err := r.stage(src, -1, r.opts.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	if v := r.opts.Verifier.Verify(ctx, r.TempPath()); !v.OK {
		os.Remove(r.TempPath())
		return nil, invalidBackup(source, v.Message)
	}

	res := &Restored{Source: source, Bytes: n}
	r.safetySnapshot(ctx, res)

	if err := r.swap(ctx, source); err != nil {
		return nil, err
	}
	r.opts.Logger.Info("live store restored from upload", "source", source, "bytes", n, "safety_snapshot", res.SafetySnapshot)
	return res, nil
}

// stage writes src to the temp path. limit < 0 means unlimited.
func (r *Restorer) stage(src io.Reader, size, limit int64) (int64, error) {
	tmp := r.TempPath()
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return 0, apperrors.Wrap(err, apperrors.TypeInternal, "failed to prepare store directory", "")
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.TypeInternal, "failed to create restore temp file", "")
	}

	if limit >= 0 {
		src = io.LimitReader(src, limit+1)
	}
	w, done := wrapProgress(r.opts.Progress, f, "restore", size)
	n, err := io.Copy(w, src)
	done()
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, apperrors.Wrap(err, apperrors.TypeInvalidBackup, "failed to stage backup", apperrors.ErrInvalidBackup.Hint)
	}
	if limit >= 0 && n > limit {
		os.Remove(tmp)
		return 0, apperrors.New(apperrors.TypeInvalidBackup,
			fmt.Sprintf("upload exceeds the %d byte limit", limit),
			"Raise max_upload_bytes or restore from the snapshot directory instead.")
	}
	return n, nil
}

// safetySnapshot copies the current live store before it is replaced. A
// failure is reported as a warning and does not stop the restore.
func (r *Restorer) safetySnapshot(ctx context.Context, res *Restored) {
	if err := db.Exists(r.opts.StorePath); err != nil {
		res.Warnings = append(res.Warnings, "no live store to snapshot before restore")
		return
	}
	built, err := r.opts.Builder.Create(ctx, BuildOptions{
		Description: "pre-restore auto",
		Trigger:     TriggerPreRestore,
	})
	if err != nil {
		metrics.SafetySnapshotFailures.WithLabelValues("restore").Inc()
		res.Warnings = append(res.Warnings, fmt.Sprintf("safety snapshot failed: %v", err))
		r.opts.Logger.Warn("safety snapshot before restore failed, continuing", "error", err)
		return
	}
	res.SafetySnapshot = built.Name
	res.Warnings = append(res.Warnings, built.Warnings...)
}

// swap re-verifies the staged file and renames it over the live store.
func (r *Restorer) swap(ctx context.Context, source string) error {
	tmp := r.TempPath()
	if v := r.opts.Verifier.Verify(ctx, tmp); !v.OK {
		os.Remove(tmp)
		return invalidBackup(source, v.Message)
	}
	for _, p := range db.SidecarPaths(r.opts.StorePath) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			os.Remove(tmp)
			return apperrors.Wrap(err, apperrors.TypeOperationFailed, "failed to clear stale journal file", "Stop other processes using the database and retry.")
		}
	}
	if err := os.Rename(tmp, r.opts.StorePath); err != nil {
		os.Remove(tmp)
		return apperrors.Wrap(err, apperrors.TypeOperationFailed, "failed to replace live store", apperrors.ErrOperationFailed.Hint)
	}
	return nil
}
