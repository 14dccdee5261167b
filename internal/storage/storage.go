// Package storage owns snapshot files: the local snapshot directory and the
// optional remote copy.
package storage

import (
	"context"
	"io"
)

// Remote is an offsite object store that receives copies of snapshots.
type Remote interface {
	Save(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	Location() string
}
