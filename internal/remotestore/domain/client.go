// Package domain defines the remote file store the ingestion loop reads from.
package domain

import (
	"context"
	"fmt"
	"io"
)

// FileMeta is one directory listing entry.
type FileMeta struct {
	Name        string
	IsDirectory bool
	Size        int64
}

// Client is a remote directory of invoice files. Every call opens its own
// session and tears it down before returning; Download keeps the session
// open until the returned reader is closed.
type Client interface {
	ListFiles(ctx context.Context, dir string) ([]FileMeta, error)
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	// Move renames src to dst. It reports false without error when src does
	// not exist.
	Move(ctx context.Context, src, dst string) (bool, error)
	Exists(ctx context.Context, path string) (bool, error)
	// MakeDirectory reports false without error when the store refuses to
	// create path, typically because it already exists.
	MakeDirectory(ctx context.Context, path string) (bool, error)
}

// Watcher is implemented by stores that can signal new arrivals.
type Watcher interface {
	Watch(ctx context.Context, dir string, notify func()) error
}

// TransferError wraps a failed remote operation.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
