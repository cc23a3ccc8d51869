package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/smallbiznis/nfsync/internal/remotestore/domain"
	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// session is the subset of *ftp.ServerConn the client drives.
type session interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Rename(from, to string) error
	MakeDir(path string) error
	Quit() error
}

type dialer func(ctx context.Context) (session, error)

// Client talks to an FTP server, one connection per operation.
type Client struct {
	cfg  Config
	log  *zap.Logger
	dial dialer
}

func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{cfg: cfg, log: log.Named("remotestore.ftp")}
	c.dial = c.connect
	return c
}

func (c *Client) connect(ctx context.Context) (session, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	c.log.Debug("ftp connect", zap.String("addr", addr))

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}
	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	return serverConn{conn}, nil
}

type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retr(p string) (io.ReadCloser, error) {
	resp, err := s.ServerConn.Retr(p)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) withSession(ctx context.Context, op, p string, fn func(session) error) error {
	if err := ctx.Err(); err != nil {
		return &domain.TransferError{Op: op, Path: p, Err: err}
	}
	s, err := c.dial(ctx)
	if err != nil {
		return &domain.TransferError{Op: "connect", Path: p, Err: err}
	}
	defer c.quit(s)

	if err := fn(s); err != nil {
		var transferErr *domain.TransferError
		if errors.As(err, &transferErr) {
			return err
		}
		return &domain.TransferError{Op: op, Path: p, Err: err}
	}
	return nil
}

func (c *Client) quit(s session) {
	if err := s.Quit(); err != nil {
		c.log.Debug("ftp quit failed", zap.Error(err))
	}
}

func (c *Client) ListFiles(ctx context.Context, dir string) ([]domain.FileMeta, error) {
	var files []domain.FileMeta
	err := c.withSession(ctx, "list", dir, func(s session) error {
		entries, err := s.List(dir)
		if err != nil {
			return err
		}
		files = toFileMeta(entries)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Client) Download(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.TransferError{Op: "download", Path: p, Err: err}
	}
	s, err := c.dial(ctx)
	if err != nil {
		return nil, &domain.TransferError{Op: "connect", Path: p, Err: err}
	}
	body, err := s.Retr(p)
	if err != nil {
		c.quit(s)
		return nil, &domain.TransferError{Op: "download", Path: p, Err: err}
	}
	return &download{ctx: ctx, body: body, closeSession: func() { c.quit(s) }}, nil
}

// download closes the data connection before quitting the control
// connection; the server only acknowledges the transfer after the former.
type download struct {
	ctx          context.Context
	body         io.ReadCloser
	closeSession func()
	closed       bool
}

func (d *download) Read(p []byte) (int, error) {
	if err := d.ctx.Err(); err != nil {
		return 0, err
	}
	return d.body.Read(p)
}

func (d *download) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.body.Close()
	d.closeSession()
	return err
}

func (c *Client) Move(ctx context.Context, src, dst string) (bool, error) {
	moved := false
	err := c.withSession(ctx, "move", src, func(s session) error {
		exists, err := existsIn(s, src)
		if err != nil {
			return err
		}
		if !exists {
			c.log.Warn("move source not found", zap.String("src", src))
			return nil
		}
		if err := s.Rename(src, dst); err != nil {
			return &domain.TransferError{Op: "rename", Path: src + " -> " + dst, Err: err}
		}
		moved = true
		return nil
	})
	return moved, err
}

func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	found := false
	err := c.withSession(ctx, "exists", p, func(s session) error {
		var err error
		found, err = existsIn(s, p)
		return err
	})
	return found, err
}

func (c *Client) MakeDirectory(ctx context.Context, p string) (bool, error) {
	created := false
	err := c.withSession(ctx, "mkdir", p, func(s session) error {
		if err := s.MakeDir(p); err != nil {
			if isRefused(err) {
				return nil
			}
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// existsIn lists the parent of p and looks for its base name; LIST on a
// plain file path is not portable across servers.
func existsIn(s session, p string) (bool, error) {
	parent, name := path.Split(path.Clean(p))
	if parent == "" {
		parent = "."
	}
	entries, err := s.List(parent)
	if err != nil {
		if isRefused(err) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if path.Base(e.Name) == name {
			return true, nil
		}
	}
	return false, nil
}

func isRefused(err error) bool {
	var protoErr *textproto.Error
	if !errors.As(err, &protoErr) {
		return false
	}
	return protoErr.Code == ftp.StatusFileUnavailable || protoErr.Code == ftp.StatusFileActionIgnored
}

func toFileMeta(entries []*ftp.Entry) []domain.FileMeta {
	files := make([]domain.FileMeta, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		name := path.Base(e.Name)
		if name == "." || name == ".." {
			continue
		}
		files = append(files, domain.FileMeta{
			Name:        name,
			IsDirectory: e.Type == ftp.EntryTypeFolder,
			Size:        int64(e.Size),
		})
	}
	return files
}
