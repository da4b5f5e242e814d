// Package vfs defines the polymorphic filesystem abstraction the storage
// engine uses for all I/O: this package fixes the contract the core
// consumes, and ships a local-disk implementation plus an S3-backed
// object-store implementation, but does not attempt to be a
// general-purpose VFS.
package vfs

import (
	"context"
)

// LockMode selects shared or exclusive file locking.
type LockMode uint8

const (
	LockShared LockMode = iota
	LockExclusive
)

// LockHandle is an opaque handle returned by FilelockLock and consumed by
// FilelockUnlock. Implementations may embed OS file descriptors, S3 lease
// tokens, etc.
type LockHandle interface {
	URI() URI
}

// VFS is the uniform filesystem contract required by the storage engine:
// read, write, sync, list, mkdir, remove, filelocks, and is-dir/is-file,
// across local and object-store backends.
type VFS interface {
	// Read reads n bytes starting at offset from the object at uri. A
	// negative n means "read to end of object".
	Read(ctx context.Context, uri URI, offset int64, n int64) ([]byte, error)
	// Write appends (local) or uploads (object-store) bytes to the object at
	// uri. Fragment and schema files are written-once; callers must not
	// call Write twice against the same uri expecting append semantics on
	// object-store backends.
	Write(ctx context.Context, uri URI, p []byte) error
	// Sync flushes any buffered writes for uri to durable storage.
	Sync(ctx context.Context, uri URI) error
	// CloseFile releases any OS resources (file descriptors) held open for
	// uri by a prior Read/Write. It does not remove the object.
	CloseFile(ctx context.Context, uri URI) error

	Ls(ctx context.Context, uri URI) ([]URI, error)
	IsDir(ctx context.Context, uri URI) (bool, error)
	IsFile(ctx context.Context, uri URI) (bool, error)
	CreateDir(ctx context.Context, uri URI) error
	Remove(ctx context.Context, uri URI) error
	Move(ctx context.Context, src, dst URI) error
	Touch(ctx context.Context, uri URI) error

	FilelockLock(ctx context.Context, uri URI, mode LockMode) (LockHandle, error)
	FilelockUnlock(ctx context.Context, h LockHandle) error

	IsBucket(ctx context.Context, uri URI) (bool, error)
	CreateBucket(ctx context.Context, uri URI) error
	RemoveBucket(ctx context.Context, uri URI) error
}
