package ftp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/textproto"
	"path"
	"strings"
	"testing"

	"github.com/jlaffaye/ftp"
	"github.com/smallbiznis/nfsync/internal/remotestore/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeServer keeps a flat map of path -> content; directories map to nil.
type fakeServer struct {
	files    map[string][]byte
	sessions int
	quits    int
}

func (f *fakeServer) dial(context.Context) (session, error) {
	f.sessions++
	return &fakeSession{srv: f}, nil
}

type fakeSession struct {
	srv *fakeServer
}

func (s *fakeSession) List(dir string) ([]*ftp.Entry, error) {
	dir = path.Clean(dir)
	if content, ok := s.srv.files[dir]; !ok || content != nil {
		return nil, &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such directory"}
	}
	entries := []*ftp.Entry{{Name: ".", Type: ftp.EntryTypeFolder}, {Name: "..", Type: ftp.EntryTypeFolder}}
	for p, content := range s.srv.files {
		if path.Dir(p) != dir || p == dir {
			continue
		}
		entry := &ftp.Entry{Name: path.Base(p), Type: ftp.EntryTypeFile, Size: uint64(len(content))}
		if content == nil {
			entry.Type = ftp.EntryTypeFolder
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *fakeSession) Retr(p string) (io.ReadCloser, error) {
	content, ok := s.srv.files[p]
	if !ok || content == nil {
		return nil, &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file"}
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *fakeSession) Rename(from, to string) error {
	content, ok := s.srv.files[from]
	if !ok {
		return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file"}
	}
	if _, ok := s.srv.files[path.Dir(to)]; !ok {
		return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such directory"}
	}
	delete(s.srv.files, from)
	s.srv.files[to] = content
	return nil
}

func (s *fakeSession) MakeDir(p string) error {
	if _, ok := s.srv.files[p]; ok {
		return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "File exists"}
	}
	s.srv.files[p] = nil
	return nil
}

func (s *fakeSession) Quit() error {
	s.srv.quits++
	return nil
}

func newFake() (*Client, *fakeServer) {
	srv := &fakeServer{files: map[string][]byte{
		"/nfs":                nil,
		"/nfs/NFe":            nil,
		"/nfs/NFe/processed":  nil,
		"/nfs/NFe/inv001.xml": []byte("<NOTA/>"),
		"/nfs/NFe/readme.txt": []byte("hello"),
	}}
	c := New(Config{Host: "ftp.example"}, zap.NewNop())
	c.dial = srv.dial
	return c, srv
}

func TestListFilesSkipsDotEntries(t *testing.T) {
	c, srv := newFake()

	files, err := c.ListFiles(context.Background(), "/nfs/NFe")
	require.NoError(t, err)

	byName := map[string]domain.FileMeta{}
	for _, f := range files {
		byName[f.Name] = f
	}
	assert.Len(t, files, 3)
	assert.True(t, byName["processed"].IsDirectory)
	assert.False(t, byName["inv001.xml"].IsDirectory)
	assert.Equal(t, int64(7), byName["inv001.xml"].Size)
	assert.Equal(t, 1, srv.sessions)
	assert.Equal(t, 1, srv.quits)
}

func TestListFilesWrapsFailures(t *testing.T) {
	c, _ := newFake()

	_, err := c.ListFiles(context.Background(), "/missing")
	var transferErr *domain.TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Equal(t, "list", transferErr.Op)
}

func TestDownloadQuitsOnClose(t *testing.T) {
	c, srv := newFake()

	rc, err := c.Download(context.Background(), "/nfs/NFe/inv001.xml")
	require.NoError(t, err)
	assert.Equal(t, 0, srv.quits)

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "<NOTA/>", string(body))

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())
	assert.Equal(t, 1, srv.quits)
}

func TestDownloadMissingFileClosesSession(t *testing.T) {
	c, srv := newFake()

	_, err := c.Download(context.Background(), "/nfs/NFe/nope.xml")
	require.Error(t, err)
	assert.Equal(t, 1, srv.quits)
}

func TestDownloadStopsReadingWhenContextEnds(t *testing.T) {
	c, _ := newFake()
	ctx, cancel := context.WithCancel(context.Background())

	rc, err := c.Download(ctx, "/nfs/NFe/inv001.xml")
	require.NoError(t, err)
	defer rc.Close()

	cancel()
	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMove(t *testing.T) {
	c, srv := newFake()
	ctx := context.Background()

	moved, err := c.Move(ctx, "/nfs/NFe/inv001.xml", "/nfs/NFe/processed/inv001.xml")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Contains(t, srv.files, "/nfs/NFe/processed/inv001.xml")

	moved, err = c.Move(ctx, "/nfs/NFe/inv001.xml", "/nfs/NFe/processed/inv001.xml")
	require.NoError(t, err)
	assert.False(t, moved)

	_, err = c.Move(ctx, "/nfs/NFe/readme.txt", "/nfs/missing/readme.txt")
	var transferErr *domain.TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Equal(t, "rename", transferErr.Op)
}

func TestExistsAndMakeDirectory(t *testing.T) {
	c, _ := newFake()
	ctx := context.Background()

	ok, err := c.Exists(ctx, "/nfs/NFe/inv001.xml")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, "/nowhere/x.xml")
	require.NoError(t, err)
	assert.False(t, ok)

	created, err := c.MakeDirectory(ctx, "/nfs/error")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.MakeDirectory(ctx, "/nfs/error")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCanceledContextSkipsDial(t *testing.T) {
	c, srv := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListFiles(ctx, "/nfs/NFe")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "canceled"))
	assert.Equal(t, 0, srv.sessions)
}
