package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"

	"okuri/internal/config"
)

// BlobStore is the path-addressed object store behind avatars and post
// images. Uploads land in a public-read bucket, so the returned URL can be
// served to clients directly.
type BlobStore interface {
	Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, path string) error
	// RemoveFolder deletes every object under the prefix. Missing objects
	// are not an error; the first failed delete is.
	RemoveFolder(ctx context.Context, prefix string) error
	// PathFromURL maps a public URL produced by Upload back to its object
	// path, for deleting by URL.
	PathFromURL(publicURL string) (string, bool)
}

type minioStore struct {
	client *minio.Client
	cfg    *config.Config
}

func NewMinIOStore(client *minio.Client, cfg *config.Config) BlobStore {
	return &minioStore{client: client, cfg: cfg}
}

func (s *minioStore) Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.MinIOBucket, path, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	return s.publicURL(path), nil
}

func (s *minioStore) Remove(ctx context.Context, path string) error {
	return s.client.RemoveObject(ctx, s.cfg.MinIOBucket, path, minio.RemoveObjectOptions{})
}

func (s *minioStore) RemoveFolder(ctx context.Context, prefix string) error {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	objects := s.client.ListObjects(ctx, s.cfg.MinIOBucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for object := range objects {
		if object.Err != nil {
			return object.Err
		}
		if err := s.client.RemoveObject(ctx, s.cfg.MinIOBucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *minioStore) PathFromURL(publicURL string) (string, bool) {
	parsed, err := url.Parse(publicURL)
	if err != nil {
		return "", false
	}
	bucketPrefix := "/" + s.cfg.MinIOBucket + "/"
	if !strings.HasPrefix(parsed.Path, bucketPrefix) {
		return "", false
	}
	path, err := url.PathUnescape(strings.TrimPrefix(parsed.Path, bucketPrefix))
	if err != nil {
		return "", false
	}
	return path, true
}

func (s *minioStore) publicURL(path string) string {
	scheme := "http"
	if s.cfg.MinIOPublicUseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.MinIOPublicEndpoint, s.cfg.MinIOBucket, url.PathEscape(path))
}
