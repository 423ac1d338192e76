package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
)

// MinIO keeps blobs as objects in a single MinIO bucket, keyed by location.
//
// Write is a conditional put (If-None-Match: *), so of two writers racing
// for the same location exactly one succeeds and the other gets ErrExists.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO adapts a MinIO client to the Store contract.
func NewMinIO(client *minio.Client, bucket string) *MinIO {
	return &MinIO{client: client, bucket: bucket}
}

func (s *MinIO) Write(ctx context.Context, location string, data []byte) error {
	opts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		// The precondition is only honored on a single-part put.
		DisableMultipart: true,
	}
	opts.SetMatchETagExcept("*")

	_, err := s.client.PutObject(ctx, s.bucket, location, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		if isPreconditionFailed(err) {
			return ErrExists
		}
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *MinIO) Open(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	object, err := s.client.GetObject(ctx, s.bucket, location, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object: %w", err)
	}
	info, err := object.Stat()
	if err != nil {
		_ = object.Close()
		if isNoSuchKey(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("stat object: %w", err)
	}
	return object, info.Size, nil
}

func (s *MinIO) Delete(ctx context.Context, location string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, location, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *MinIO) Exists(ctx context.Context, location string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, location, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// MakeDir is a no-op: object stores have no directories.
func (s *MinIO) MakeDir(context.Context, string) error {
	return nil
}

func (s *MinIO) RemoveAll(ctx context.Context, prefix string) error {
	var listErr error
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: dirPrefix(prefix), Recursive: true}) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			objectsCh <- obj
		}
	}()

	var removeErr error
	for rErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if removeErr == nil {
			removeErr = fmt.Errorf("remove object %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	if listErr != nil {
		return fmt.Errorf("list objects: %w", listErr)
	}
	return removeErr
}

func (s *MinIO) List(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: dirPrefix(prefix), Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		entries = append(entries, Entry{
			Location: obj.Key,
			Size:     obj.Size,
			ModTime:  obj.LastModified,
		})
	}
	return entries, nil
}

func (s *MinIO) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("minio bucket %q does not exist", s.bucket)
	}
	return nil
}

func dirPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

func isPreconditionFailed(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
