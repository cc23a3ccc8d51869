package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/nfsync/internal/remotestore/domain"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Client serves a directory tree as the remote store. Paths are slash
// separated and resolved against the filesystem root.
type Client struct {
	fs       afero.Fs
	osRoot   string
	log      *zap.Logger
	debounce time.Duration
}

// New returns a client over an OS directory.
func New(root string, log *zap.Logger) *Client {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	c := NewWithFs(afero.NewBasePathFs(afero.NewOsFs(), abs), log)
	c.osRoot = abs
	return c
}

// NewWithFs returns a client over an arbitrary afero filesystem. Watch is a
// no-op unless the filesystem is OS-backed.
func NewWithFs(fsys afero.Fs, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{fs: fsys, log: log.Named("remotestore.local"), debounce: 500 * time.Millisecond}
}

func clean(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

func (c *Client) ListFiles(ctx context.Context, dir string) ([]domain.FileMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.TransferError{Op: "list", Path: dir, Err: err}
	}
	infos, err := afero.ReadDir(c.fs, clean(dir))
	if err != nil {
		return nil, &domain.TransferError{Op: "list", Path: dir, Err: err}
	}
	files := make([]domain.FileMeta, 0, len(infos))
	for _, info := range infos {
		files = append(files, domain.FileMeta{
			Name:        info.Name(),
			IsDirectory: info.IsDir(),
			Size:        info.Size(),
		})
	}
	return files, nil
}

func (c *Client) Download(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.TransferError{Op: "download", Path: p, Err: err}
	}
	f, err := c.fs.Open(clean(p))
	if err != nil {
		return nil, &domain.TransferError{Op: "download", Path: p, Err: err}
	}
	return f, nil
}

func (c *Client) Move(ctx context.Context, src, dst string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &domain.TransferError{Op: "move", Path: src, Err: err}
	}
	if _, err := c.fs.Stat(clean(src)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("move source not found", zap.String("src", src))
			return false, nil
		}
		return false, &domain.TransferError{Op: "move", Path: src, Err: err}
	}
	if err := c.fs.Rename(clean(src), clean(dst)); err != nil {
		return false, &domain.TransferError{Op: "rename", Path: src + " -> " + dst, Err: err}
	}
	return true, nil
}

func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &domain.TransferError{Op: "exists", Path: p, Err: err}
	}
	ok, err := afero.Exists(c.fs, clean(p))
	if err != nil {
		return false, &domain.TransferError{Op: "exists", Path: p, Err: err}
	}
	return ok, nil
}

func (c *Client) MakeDirectory(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &domain.TransferError{Op: "mkdir", Path: p, Err: err}
	}
	if ok, _ := afero.Exists(c.fs, clean(p)); ok {
		return false, nil
	}
	if err := c.fs.MkdirAll(clean(p), 0o755); err != nil {
		return false, &domain.TransferError{Op: "mkdir", Path: p, Err: err}
	}
	return true, nil
}

// Watch calls notify, at most once per debounce window, when an XML file is
// created in or moved into dir. It blocks until ctx is done.
func (c *Client) Watch(ctx context.Context, dir string, notify func()) error {
	if c.osRoot == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Join(c.osRoot, filepath.FromSlash(clean(dir)))
	if err := watcher.Add(target); err != nil {
		return &domain.TransferError{Op: "watch", Path: dir, Err: err}
	}
	c.log.Info("watching source directory", zap.String("dir", target))

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".xml") {
				continue
			}
			if now := time.Now(); now.Sub(last) >= c.debounce {
				last = now
				notify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("watch error", zap.Error(err))
		}
	}
}

var _ domain.Watcher = (*Client)(nil)
