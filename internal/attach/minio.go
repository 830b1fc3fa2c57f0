// Package attach stores thread attachments in an S3-compatible object store.
// Attachments are optional; when no endpoint is configured the service runs
// without them.
package attach

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"teamboard/api/internal/store"
)

const presignTTL = 15 * time.Minute

// Store uploads and serves attachment objects via MinIO.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists. Returns nil
// when endpoint is empty; callers treat a nil Store as attachments disabled.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	if endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
		log.Printf("attach: created bucket %s", bucket)
	}

	return &Store{client: client, bucket: bucket}, nil
}

// Upload stores the object under a fresh key scoped to the thread and returns
// its metadata. The original filename survives only in the key's last segment.
func (s *Store) Upload(ctx context.Context, threadID, filename, contentType string, size int64, r io.Reader) (store.Attachment, error) {
	key := path.Join("threads", threadID, uuid.NewString()+"-"+path.Base(filename))

	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return store.Attachment{}, fmt.Errorf("put object: %w", err)
	}

	return store.Attachment{
		Name: path.Base(filename),
		URL:  key,
		Type: contentType,
		Size: info.Size,
	}, nil
}

// PresignGet returns a time-limited download URL for a stored object key.
func (s *Store) PresignGet(ctx context.Context, key string) (string, error) {
	params := make(url.Values)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

// Delete removes a stored object. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// RemoveThread deletes every object stored under the thread's key prefix.
// Called when a thread is deleted so its attachments do not linger.
func (s *Store) RemoveThread(ctx context.Context, threadID string) error {
	prefix := path.Join("threads", threadID) + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list objects: %w", obj.Err)
		}
		if err := s.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}
