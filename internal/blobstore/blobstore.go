// Package blobstore stores raw certificate PDFs in an S3-compatible
// object store.  It owns the bytes exclusively: the rest of the system
// references an object only through the opaque key inside a Ref.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/ecoledger/marketplace/internal/config"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("blob not found")

// StorageError wraps any object-store failure so callers can treat
// storage problems uniformly as dependency failures, never as
// validation errors.
type StorageError struct {
	Op  string // "put", "get" or "delete"
	Err error
}

func (e *StorageError) Error() string { return "blobstore: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// Ref identifies a committed blob.  Key is the object key, SHA256 the
// hex digest of the stored bytes and Size their length.  A Ref only
// ever points at a fully committed object: Put either returns a Ref or
// leaves nothing behind.
type Ref struct {
	Key    string
	SHA256 string
	Size   int64
}

// Store wraps an S3 client bound to one bucket.  Safe for concurrent use.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a Store from config.  Static credentials and a custom base
// endpoint keep it compatible with minio in development.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true // minio requires path-style addressing
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// storageKey returns a date-prefixed random object key.  The date keeps
// bucket listings roughly chronological and the uuid makes collisions
// impossible.  Keys are a single path segment: they double as the
// opaque file_ref in certificate URLs, so they must never contain "/".
func storageKey() string {
	return fmt.Sprintf("%s-%v", time.Now().UTC().Format("20060102"), uuid.New())
}

// Put commits the given bytes and returns a Ref for them.  The digest
// is computed over exactly what is uploaded.  On failure nothing is
// referenced and the error is a *StorageError.
func (s *Store) Put(ctx context.Context, data []byte, contentType string) (Ref, error) {
	sum := sha256.Sum256(data)
	key := storageKey()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return Ref{}, &StorageError{Op: "put", Err: err}
	}

	return Ref{
		Key:    key,
		SHA256: hex.EncodeToString(sum[:]),
		Size:   int64(len(data)),
	}, nil
}

// Get returns a streaming reader over the stored object plus its size
// and content type.  The caller must close the reader.  Serving a
// certificate never buffers the whole file.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, "", ErrNotFound
		}
		return nil, 0, "", &StorageError{Op: "get", Err: err}
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	ct := ""
	if out.ContentType != nil {
		ct = *out.ContentType
	}
	return out.Body, size, ct, nil
}

// Delete removes the object.  Deleting a missing key is not an error:
// the upload pipeline calls Delete to undo a put whose metadata insert
// lost a duplicate race, and that cleanup must be safely repeatable.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}
