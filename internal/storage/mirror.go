package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sandiman184/e-raport/internal/compress"
	"github.com/Sandiman184/e-raport/internal/crypto"
)

const encryptedExt = ".enc"

// Mirror pushes snapshot files to a Remote, compressing and optionally
// encrypting them on the way.
type Mirror struct {
	remote     Remote
	algo       compress.Algorithm
	passphrase string
}

func NewMirror(remote Remote, algo compress.Algorithm, passphrase string) *Mirror {
	return &Mirror{remote: remote, algo: algo, passphrase: passphrase}
}

func (m *Mirror) Location() string {
	return m.remote.Location()
}

// Ping checks that the remote is reachable, creating the bucket when the
// remote supports it.
func (m *Mirror) Ping(ctx context.Context) error {
	if b, ok := m.remote.(interface{ EnsureBucket(context.Context) error }); ok {
		return b.EnsureBucket(ctx)
	}
	return nil
}

// RemoteName is the object name used for a snapshot file name.
func (m *Mirror) RemoteName(snapshotName string) string {
	name := snapshotName + m.algo.Ext()
	if m.passphrase != "" {
		name += encryptedExt
	}
	return name
}

// Push uploads the snapshot at path and returns its remote location.
func (m *Mirror) Push(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(m.encode(pw, f))
	}()

	loc, err := m.remote.Save(ctx, m.RemoteName(filepath.Base(path)), pr, -1)
	pr.CloseWithError(err)
	if err != nil {
		return "", err
	}
	return loc, nil
}

func (m *Mirror) encode(dst io.Writer, src io.Reader) error {
	var sink io.WriteCloser = nopCloser{dst}
	if m.passphrase != "" {
		ew, err := crypto.NewEncryptWriter(dst, m.passphrase)
		if err != nil {
			return err
		}
		sink = ew
	}
	cw, err := compress.NewWriter(sink, m.algo)
	if err != nil {
		return err
	}
	if _, err := io.Copy(cw, src); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return sink.Close()
}

// Fetch downloads the remote copy of snapshotName and writes the decoded
// database bytes to w.
func (m *Mirror) Fetch(ctx context.Context, snapshotName string, w io.Writer) (int64, error) {
	rc, err := m.remote.Open(ctx, m.RemoteName(snapshotName))
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if strings.HasSuffix(m.RemoteName(snapshotName), encryptedExt) {
		r, err = crypto.NewDecryptReader(rc, m.passphrase)
		if err != nil {
			return 0, fmt.Errorf("decrypt %s: %w", snapshotName, err)
		}
	}
	dr, err := compress.NewReader(r, m.algo)
	if err != nil {
		return 0, err
	}
	defer dr.Close()
	return io.Copy(w, dr)
}

// Forget removes the remote copy of snapshotName.
func (m *Mirror) Forget(ctx context.Context, snapshotName string) error {
	return m.remote.Delete(ctx, m.RemoteName(snapshotName))
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
