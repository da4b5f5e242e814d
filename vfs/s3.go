package vfs

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/latticedb/lattice/errors"
)

// S3 is a VFS backed by an S3-compatible object store, for array URIs of
// the form s3://bucket/key. Object-store backends have no directories or
// append-in-place semantics; Ls simulates directory listing with a
// delimiter, and Write always uploads the full object, which is sufficient
// since fragment and schema files are written exactly once.
type S3 struct {
	client *s3.S3
}

// NewS3 builds an S3 VFS from a configured AWS session.
func NewS3(sess *session.Session) *S3 {
	return &S3{client: s3.New(sess)}
}

func isNoSuchKey(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

func (v *S3) Read(ctx context.Context, uri URI, offset int64, n int64) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(uri.Authority()),
		Key:    aws.String(strings.TrimPrefix(uri.Path(), "/")),
	}
	if n >= 0 {
		input.Range = aws.String(httpRange(offset, n))
	} else if offset > 0 {
		input.Range = aws.String("bytes=" + strconv.FormatInt(offset, 10) + "-")
	}
	out, err := v.client.GetObjectWithContext(ctx, input)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errors.New(errors.CodeNotFound, "vfs: "+uri.Escaped())
		}
		return nil, wrapIO(err, "vfs read", uri)
	}
	defer out.Body.Close()
	buf, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, wrapIO(err, "vfs read", uri)
	}
	return buf, nil
}

func (v *S3) Write(ctx context.Context, uri URI, p []byte) error {
	_, err := v.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(uri.Authority()),
		Key:    aws.String(strings.TrimPrefix(uri.Path(), "/")),
		Body:   bytes.NewReader(p),
	})
	if err != nil {
		return wrapIO(err, "vfs write", uri)
	}
	return nil
}

// Sync is a no-op: PutObject is already durable on return.
func (v *S3) Sync(ctx context.Context, uri URI) error { return nil }

// CloseFile is a no-op: S3 has no open file handles to release.
func (v *S3) CloseFile(ctx context.Context, uri URI) error { return nil }

func (v *S3) Ls(ctx context.Context, uri URI) ([]URI, error) {
	prefix := strings.TrimPrefix(uri.Path(), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []URI
	err := v.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(uri.Authority()),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			out = append(out, uri.Join(name))
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(*obj.Key, prefix)
			if name == "" {
				continue
			}
			out = append(out, uri.Join(name))
		}
		return true
	})
	if err != nil {
		return nil, wrapIO(err, "vfs ls", uri)
	}
	return out, nil
}

func (v *S3) IsDir(ctx context.Context, uri URI) (bool, error) {
	children, err := v.Ls(ctx, uri)
	if err != nil {
		return false, err
	}
	return len(children) > 0, nil
}

func (v *S3) IsFile(ctx context.Context, uri URI) (bool, error) {
	_, err := v.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(uri.Authority()),
		Key:    aws.String(strings.TrimPrefix(uri.Path(), "/")),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, wrapIO(err, "vfs stat", uri)
	}
	return true, nil
}

// CreateDir is a no-op: S3 has no directories, only key prefixes.
func (v *S3) CreateDir(ctx context.Context, uri URI) error { return nil }

func (v *S3) Remove(ctx context.Context, uri URI) error {
	children, err := v.Ls(ctx, uri)
	if err == nil && len(children) > 0 {
		for _, c := range children {
			if err := v.Remove(ctx, c); err != nil {
				return err
			}
		}
	}
	_, err = v.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(uri.Authority()),
		Key:    aws.String(strings.TrimPrefix(uri.Path(), "/")),
	})
	if err != nil {
		return wrapIO(err, "vfs remove", uri)
	}
	return nil
}

func (v *S3) Move(ctx context.Context, src, dst URI) error {
	_, err := v.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.Authority()),
		Key:        aws.String(strings.TrimPrefix(dst.Path(), "/")),
		CopySource: aws.String(src.Authority() + src.Path()),
	})
	if err != nil {
		return wrapIO(err, "vfs move", src)
	}
	return v.Remove(ctx, src)
}

func (v *S3) Touch(ctx context.Context, uri URI) error {
	return v.Write(ctx, uri, nil)
}

// FilelockLock has no native S3 equivalent; on an S3-backed deployment,
// mutual exclusion on array directories is coordinated by an external
// lease service rather than this package. An unimplemented lock is
// reported as LockError rather than silently succeeding, so a caller that
// depends on mutual exclusion finds out.
func (v *S3) FilelockLock(ctx context.Context, uri URI, mode LockMode) (LockHandle, error) {
	return nil, errors.New(errors.CodeLockError, "s3 vfs: filelock not supported, use an external lease coordinator")
}

func (v *S3) FilelockUnlock(ctx context.Context, h LockHandle) error {
	return errors.New(errors.CodeLockError, "s3 vfs: filelock not supported")
}

func (v *S3) IsBucket(ctx context.Context, uri URI) (bool, error) {
	_, err := v.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(uri.Authority())})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == "NotFound" {
			return false, nil
		}
		return false, wrapIO(err, "vfs head-bucket", uri)
	}
	return true, nil
}

func (v *S3) CreateBucket(ctx context.Context, uri URI) error {
	_, err := v.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(uri.Authority())})
	if err != nil {
		return wrapIO(err, "vfs create-bucket", uri)
	}
	return nil
}

func (v *S3) RemoveBucket(ctx context.Context, uri URI) error {
	_, err := v.client.DeleteBucketWithContext(ctx, &s3.DeleteBucketInput{Bucket: aws.String(uri.Authority())})
	if err != nil {
		return wrapIO(err, "vfs remove-bucket", uri)
	}
	return nil
}

func httpRange(offset, n int64) string {
	if n <= 0 {
		return ""
	}
	return "bytes=" + strconv.FormatInt(offset, 10) + "-" + strconv.FormatInt(offset+n-1, 10)
}

var _ VFS = (*S3)(nil)
