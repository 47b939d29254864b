package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// BucketWriter streams objects into Cloud Storage buckets.
type BucketWriter struct {
	client *gcs.Client
	// chunkSize zero sends each object in a single request.
	chunkSize int
}

// BucketWriterOption customises writer behaviour.
type BucketWriterOption func(*BucketWriter)

// WithChunkSize switches uploads to resumable chunks of the given size.
func WithChunkSize(size int) BucketWriterOption {
	return func(w *BucketWriter) {
		if size > 0 {
			w.chunkSize = size
		}
	}
}

// NewBucketWriter constructs a BucketWriter backed by the provided Cloud Storage client.
func NewBucketWriter(client *gcs.Client, opts ...BucketWriterOption) (*BucketWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	writer := &BucketWriter{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(writer)
		}
	}
	return writer, nil
}

// WriteObject creates or replaces bucket/object with the bytes produced by fill. The object is only
// committed when fill succeeds; otherwise the upload is abandoned.
func (w *BucketWriter) WriteObject(ctx context.Context, bucket, object, contentType string, fill func(io.Writer) error) error {
	if w == nil || w.client == nil {
		return errors.New("storage writer: client is not initialised")
	}
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimSpace(object)
	if bucket == "" || object == "" {
		return errors.New("storage writer: bucket and object must be provided")
	}
	if fill == nil {
		return errors.New("storage writer: fill function is required")
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := w.client.Bucket(bucket).Object(object).NewWriter(uploadCtx)
	writer.ChunkSize = w.chunkSize
	if contentType = strings.TrimSpace(contentType); contentType != "" {
		writer.ContentType = contentType
	}

	if err := fill(writer); err != nil {
		// Cancelling the context before Close discards the partial upload.
		cancel()
		_ = writer.Close()
		return fmt.Errorf("storage writer: fill %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage writer: close %s: %w", object, err)
	}
	return nil
}
