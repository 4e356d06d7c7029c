// Package minio archives reports to a MinIO server.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kbukum/devflow/archive"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/logger"
)

func init() {
	archive.RegisterFactory(archive.ProviderMinIO, func(ctx context.Context, cfg archive.Config, log *logger.Logger) (archive.Storage, error) {
		s, err := NewStorage(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.CreateBucket {
			if err := s.EnsureBucket(ctx, cfg.Region); err != nil {
				return nil, err
			}
			log.Debug("bucket ready", map[string]interface{}{"bucket": cfg.Bucket})
		}
		return s, nil
	})
}

// Storage implements archive.Storage on a MinIO bucket.
type Storage struct {
	client *minio.Client
	bucket string
}

// NewStorage builds a client for cfg.Endpoint. No request is made.
func NewStorage(cfg archive.Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: minio client: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Storage) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("archive: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("archive: make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload buffers reader and puts it with a known size.
func (s *Storage) Upload(ctx context.Context, path string, reader io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return fmt.Errorf("archive: read upload: %w", err)
	}
	ct := "application/octet-stream"
	if archive.IsReportPath(path) {
		ct = archive.ReportContentType
	}
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: ct})
	if err != nil {
		return fmt.Errorf("archive: minio upload: %w", err)
	}
	return nil
}

// Download stats the object first so a missing key surfaces here rather
// than on the first Read.
func (s *Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, errors.NotFound("archived object", path)
		}
		return nil, fmt.Errorf("archive: minio stat: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive: minio download: %w", err)
	}
	return obj, nil
}

// Delete removes the object.
func (s *Storage) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("archive: minio delete: %w", err)
	}
	return nil
}

// Exists stats the object.
func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("archive: minio stat: %w", err)
	}
	return true, nil
}

// List drains a recursive listing of prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]archive.FileInfo, error) {
	var files []archive.FileInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("archive: minio list: %w", obj.Err)
		}
		files = append(files, archive.FileInfo{
			Path:         obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

var _ archive.Storage = (*Storage)(nil)
