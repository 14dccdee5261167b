package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/manifest"
)

// Snapshot is one immutable backup file in the snapshot directory.
type Snapshot struct {
	Name        string             `json:"name"`
	Path        string             `json:"-"`
	Size        int64              `json:"size"`
	CreatedAt   time.Time          `json:"created_at"`
	Year        string             `json:"year,omitempty"`
	Description string             `json:"description,omitempty"`
	Manifest    *manifest.Manifest `json:"manifest,omitempty"`
}

// SnapshotStore owns the snapshot directory. All untrusted names pass
// through Resolve before touching the filesystem.
type SnapshotStore struct {
	baseDir string
}

func NewSnapshotStore(baseDir string) *SnapshotStore {
	if baseDir == "" {
		baseDir = "./"
	}
	return &SnapshotStore{baseDir: baseDir}
}

func (s *SnapshotStore) Location() string {
	return s.baseDir
}

// EnsureDir creates the snapshot directory if it is missing.
func (s *SnapshotStore) EnsureDir() error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return nil
}

func invalidName(name, reason string) error {
	return apperrors.New(apperrors.TypeInvalidBackup,
		fmt.Sprintf("invalid snapshot name %q: %s", name, reason),
		"Pick a name from `eraport backups list`.")
}

// Resolve maps an untrusted snapshot name to a path inside the snapshot
// directory. It does not check that the file exists.
func (s *SnapshotStore) Resolve(name string) (string, error) {
	switch {
	case name == "":
		return "", invalidName(name, "empty")
	case strings.ContainsAny(name, `/\`) || strings.Contains(name, ".."):
		return "", invalidName(name, "contains a path component")
	case filepath.Base(name) != name || SecureFilename(name) != name:
		return "", invalidName(name, "contains unsafe characters")
	case !strings.HasSuffix(name, SnapshotExt):
		return "", invalidName(name, "not a "+SnapshotExt+" file")
	}

	base, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(base, name)
	rel, err := filepath.Rel(base, path)
	if err != nil || rel != name {
		return "", invalidName(name, "escapes the snapshot directory")
	}
	return path, nil
}

// Stat returns the snapshot called name.
func (s *SnapshotStore) Stat(name string) (Snapshot, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return Snapshot{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, apperrors.Wrap(err, apperrors.TypeInvalidBackup,
				fmt.Sprintf("snapshot %s not found", name), "Pick a name from `eraport backups list`.")
		}
		return Snapshot{}, err
	}
	if !info.Mode().IsRegular() {
		return Snapshot{}, invalidName(name, "not a regular file")
	}
	return s.describe(path, info), nil
}

func (s *SnapshotStore) describe(path string, info os.FileInfo) Snapshot {
	snap := Snapshot{
		Name:      info.Name(),
		Path:      path,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}
	if parsed, ok := ParseSnapshotName(snap.Name); ok {
		snap.Year = parsed.Year
		snap.Description = parsed.Description
	}
	if m, err := manifest.Read(path); err == nil && m != nil {
		snap.Manifest = m
		snap.Year = m.Year
		snap.Description = m.Description
		if !m.CreatedAt.IsZero() {
			snap.CreatedAt = m.CreatedAt
		}
	}
	return snap
}

// List returns every snapshot, newest first. A missing directory yields an
// empty list.
func (s *SnapshotStore) List(ctx context.Context) ([]Snapshot, error) {
	entries, err := os.ReadDir(s.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return []Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	snaps := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), SnapshotExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed while listing
		}
		path, err := s.Resolve(e.Name())
		if err != nil {
			continue
		}
		snaps = append(snaps, s.describe(path, info))
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].Name > snaps[j].Name
		}
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// Open returns a reader for the snapshot called name.
func (s *SnapshotStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	snap, err := s.Stat(name)
	if err != nil {
		return nil, err
	}
	return os.Open(snap.Path)
}

// Delete removes a snapshot and its manifest. It reports false when the
// snapshot did not exist.
func (s *SnapshotStore) Delete(ctx context.Context, name string) (bool, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if err := os.Remove(manifest.PathFor(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true, fmt.Errorf("snapshot deleted but manifest remains: %w", err)
	}
	return true, nil
}

// Pending is a snapshot being written under a temp name.
type Pending struct {
	*os.File
	Name    string // final name
	TmpPath string
	closed  bool
}

// Close syncs and closes the temp file. It is safe to call more than once.
func (p *Pending) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.File.Sync(); err != nil {
		p.File.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	return p.File.Close()
}

// Create opens a temp file for a new snapshot called name. The name gets a
// numeric suffix when it is already taken. Call Commit or Abort afterwards.
func (s *SnapshotStore) Create(name string) (*Pending, error) {
	if err := s.EnsureDir(); err != nil {
		return nil, err
	}
	final := name
	for i := 2; ; i++ {
		path, err := s.Resolve(final)
		if err != nil {
			return nil, err
		}
		if !exists(path) && !exists(path+TempExt) {
			break
		}
		final = withSuffix(name, i)
	}

	path, _ := s.Resolve(final)
	tmp := path + TempExt
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &Pending{File: f, Name: final, TmpPath: tmp}, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// Abort discards the temp file.
func (s *SnapshotStore) Abort(p *Pending) {
	if !p.closed {
		p.closed = true
		p.File.Close()
	}
	os.Remove(p.TmpPath)
}

// Commit closes the temp file if still open and renames it to its final
// name, returning the final path.
func (s *SnapshotStore) Commit(p *Pending) (string, error) {
	if err := p.Close(); err != nil {
		os.Remove(p.TmpPath)
		return "", err
	}
	path, err := s.Resolve(p.Name)
	if err != nil {
		os.Remove(p.TmpPath)
		return "", err
	}
	if err := os.Rename(p.TmpPath, path); err != nil {
		os.Remove(p.TmpPath)
		return "", fmt.Errorf("failed to finalize file (rename): %w", err)
	}
	return path, nil
}

// SweepTemp removes orphaned *.tmp files from the snapshot directory plus
// any extra paths given, returning how many files were removed.
func (s *SnapshotStore) SweepTemp(ctx context.Context, extra ...string) (int, error) {
	removed := 0
	entries, err := os.ReadDir(s.baseDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), TempExt) {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, e.Name())); err == nil {
			removed++
		}
	}
	for _, p := range extra {
		if err := os.Remove(p); err == nil {
			removed++
		} else if !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
	}
	return removed, nil
}
