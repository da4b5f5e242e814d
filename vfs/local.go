package vfs

import (
	"context"
	"io"
	"os"
	"sort"
	"sync"
	"syscall"

	"github.com/latticedb/lattice/errors"
)

// Local is a VFS backed by the local filesystem. File locking is
// implemented with flock(2), held for the lifetime of an open array
// directory's registry entry.
type Local struct {
	mu sync.Mutex
	// open tracks file handles kept open across Write calls so that Sync
	// and CloseFile have something to operate on.
	open map[URI]*os.File
}

// NewLocal returns a Local VFS rooted at the OS filesystem; uri.Path() is
// used verbatim as the OS path.
func NewLocal() *Local {
	return &Local{open: make(map[URI]*os.File)}
}

// wrapIO tags err with errors.CodeIOError and adds uri/op context,
// preserving the original message.
func wrapIO(err error, op string, uri URI) error {
	return errors.Wrap(errors.New(errors.CodeIOError, err.Error()), op+" "+uri.Escaped())
}

type localLockHandle struct {
	uri URI
	f   *os.File
}

func (h *localLockHandle) URI() URI { return h.uri }

func (l *Local) getOrOpen(uri URI, flag int, perm os.FileMode) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.open[uri]; ok {
		return f, nil
	}
	f, err := os.OpenFile(uri.Path(), flag, perm)
	if err != nil {
		return nil, err
	}
	l.open[uri] = f
	return f, nil
}

func (l *Local) Read(ctx context.Context, uri URI, offset int64, n int64) ([]byte, error) {
	f, err := os.Open(uri.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeNotFound, "vfs: "+uri.Escaped())
		}
		return nil, wrapIO(err, "vfs read", uri)
	}
	defer f.Close()
	if n < 0 {
		fi, statErr := f.Stat()
		if statErr != nil {
			return nil, wrapIO(statErr, "vfs read", uri)
		}
		n = fi.Size() - offset
		if n < 0 {
			n = 0
		}
	}
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, wrapIO(err, "vfs read", uri)
	}
	return buf[:read], nil
}

func (l *Local) Write(ctx context.Context, uri URI, p []byte) error {
	f, err := l.getOrOpen(uri, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return wrapIO(err, "vfs write", uri)
	}
	if _, err := f.Write(p); err != nil {
		return wrapIO(err, "vfs write", uri)
	}
	return nil
}

func (l *Local) Sync(ctx context.Context, uri URI) error {
	l.mu.Lock()
	f, ok := l.open[uri]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := f.Sync(); err != nil {
		return wrapIO(err, "vfs sync", uri)
	}
	return nil
}

func (l *Local) CloseFile(ctx context.Context, uri URI) error {
	l.mu.Lock()
	f, ok := l.open[uri]
	if ok {
		delete(l.open, uri)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := f.Close(); err != nil {
		return wrapIO(err, "vfs close", uri)
	}
	return nil
}

func (l *Local) Ls(ctx context.Context, uri URI) ([]URI, error) {
	entries, err := os.ReadDir(uri.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeNotFound, "vfs: "+uri.Escaped())
		}
		return nil, wrapIO(err, "vfs ls", uri)
	}
	out := make([]URI, 0, len(entries))
	for _, e := range entries {
		out = append(out, uri.Join(e.Name()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (l *Local) IsDir(ctx context.Context, uri URI) (bool, error) {
	fi, err := os.Stat(uri.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapIO(err, "vfs stat", uri)
	}
	return fi.IsDir(), nil
}

func (l *Local) IsFile(ctx context.Context, uri URI) (bool, error) {
	fi, err := os.Stat(uri.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapIO(err, "vfs stat", uri)
	}
	return !fi.IsDir(), nil
}

func (l *Local) CreateDir(ctx context.Context, uri URI) error {
	if err := os.MkdirAll(uri.Path(), 0o777); err != nil {
		return wrapIO(err, "vfs mkdir", uri)
	}
	return nil
}

func (l *Local) Remove(ctx context.Context, uri URI) error {
	if err := os.RemoveAll(uri.Path()); err != nil {
		return wrapIO(err, "vfs remove", uri)
	}
	return nil
}

func (l *Local) Move(ctx context.Context, src, dst URI) error {
	if err := os.Rename(src.Path(), dst.Path()); err != nil {
		return wrapIO(err, "vfs move", src)
	}
	return nil
}

func (l *Local) Touch(ctx context.Context, uri URI) error {
	f, err := os.OpenFile(uri.Path(), os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return wrapIO(err, "vfs touch", uri)
	}
	return f.Close()
}

func (l *Local) FilelockLock(ctx context.Context, uri URI, mode LockMode) (LockHandle, error) {
	// uri is usually an array directory, which cannot be opened O_RDWR; a
	// plain read-only descriptor is sufficient for flock(2) regardless of
	// LockMode, so directories and files are both handled by opening
	// O_RDONLY and falling back to creating a plain file only when uri does
	// not exist yet.
	f, err := os.OpenFile(uri.Path(), os.O_RDONLY, 0)
	if os.IsNotExist(err) {
		f, err = os.OpenFile(uri.Path(), os.O_RDWR|os.O_CREATE, 0o666)
	}
	if err != nil {
		return nil, wrapIO(err, "vfs filelock open", uri)
	}
	how := syscall.LOCK_SH
	if mode == LockExclusive {
		how = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Wrap(errors.New(errors.CodeLockError, err.Error()), "vfs filelock "+uri.Escaped())
	}
	return &localLockHandle{uri: uri, f: f}, nil
}

func (l *Local) FilelockUnlock(ctx context.Context, h LockHandle) error {
	lh, ok := h.(*localLockHandle)
	if !ok {
		return errors.New(errors.CodeInvalidArgument, "vfs: foreign lock handle")
	}
	if err := syscall.Flock(int(lh.f.Fd()), syscall.LOCK_UN); err != nil {
		return wrapIO(err, "vfs filelock unlock", lh.uri)
	}
	return lh.f.Close()
}

// IsBucket, CreateBucket, RemoveBucket are no-ops on local disk: every
// directory is trivially "its own bucket". They exist to satisfy the VFS
// interface uniformly across backends.
func (l *Local) IsBucket(ctx context.Context, uri URI) (bool, error) { return l.IsDir(ctx, uri) }
func (l *Local) CreateBucket(ctx context.Context, uri URI) error     { return l.CreateDir(ctx, uri) }
func (l *Local) RemoveBucket(ctx context.Context, uri URI) error     { return l.Remove(ctx, uri) }
