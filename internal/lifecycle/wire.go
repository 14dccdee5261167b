package lifecycle

import (
	"github.com/vbauerster/mpb/v8"

	"github.com/Sandiman184/e-raport/internal/audit"
	"github.com/Sandiman184/e-raport/internal/backup"
	"github.com/Sandiman184/e-raport/internal/compress"
	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/db"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/logger"
	"github.com/Sandiman184/e-raport/internal/notify"
	"github.com/Sandiman184/e-raport/internal/storage"
)

// FromConfig assembles a Manager and its collaborators from configuration.
// progress may be nil.
func FromConfig(cfg *config.Config, l *logger.Logger, progress *mpb.Progress) (*Manager, error) {
	store := storage.NewSnapshotStore(cfg.BackupDir)
	if err := store.EnsureDir(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "cannot create backup directory", "Check backup_dir and its permissions.")
	}

	mirror, err := MirrorFromConfig(cfg.Mirror.S3)
	if err != nil {
		return nil, err
	}

	verifier := db.NewVerifier()
	builder := backup.NewBuilder(backup.BuilderOptions{
		AppName:   cfg.AppName,
		StorePath: cfg.StorePath,
		Store:     store,
		Verifier:  verifier,
		Mirror:    mirror,
		Logger:    l,
		Progress:  progress,
	})
	restorer := backup.NewRestorer(backup.RestorerOptions{
		StorePath:      cfg.StorePath,
		Builder:        builder,
		Verifier:       verifier,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         l,
		Progress:       progress,
	})

	return New(Options{
		StorePath: cfg.StorePath,
		Builder:   builder,
		Restorer:  restorer,
		Mirror:    mirror,
		Audit: audit.New(audit.Options{
			StorePath: cfg.StorePath,
			Journal:   audit.NewJournal(cfg.BackupDir),
			Logger:    l,
		}),
		Notifier:           notify.BuildNotifier(cfg),
		Retention:          cfg.Retention,
		StrictSafetyBackup: cfg.StrictSafetyBackup,
		Logger:             l,
	}), nil
}

// MirrorFromConfig returns nil when no bucket is configured.
func MirrorFromConfig(s3 config.S3Config) (*storage.Mirror, error) {
	if !s3.Enabled() {
		return nil, nil
	}
	algo, err := compress.Parse(s3.Compression)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "invalid mirror.s3.compression", "Use one of gzip, lz4, zstd or none.")
	}
	remote, err := storage.NewS3Storage(storage.S3Options{
		Endpoint:  s3.Endpoint,
		Region:    s3.Region,
		Bucket:    s3.Bucket,
		Prefix:    s3.Prefix,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		UseSSL:    s3.UseSSL,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "invalid mirror configuration", "")
	}
	return storage.NewMirror(remote, algo, s3.Passphrase), nil
}
