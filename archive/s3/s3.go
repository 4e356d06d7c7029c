// Package s3 archives reports to Amazon S3 or an S3-compatible service.
package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kbukum/devflow/archive"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/logger"
)

func init() {
	archive.RegisterFactory(archive.ProviderS3, func(ctx context.Context, cfg archive.Config, _ *logger.Logger) (archive.Storage, error) {
		return NewStorage(ctx, cfg)
	})
}

// Storage implements archive.Storage on an S3 bucket.
type Storage struct {
	client *awss3.Client
	bucket string
}

// NewStorage builds an S3 client from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewStorage(ctx context.Context, cfg archive.Config) (*Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})
	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

// Upload writes reader to the object at path.
func (s *Storage) Upload(ctx context.Context, path string, reader io.Reader) error {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        reader,
		ContentType: aws.String(contentType(path)),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 upload: %w", err)
	}
	return nil
}

// Download returns the object body.
func (s *Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if stderrors.As(err, &nsk) {
			return nil, errors.NotFound("archived object", path)
		}
		return nil, fmt.Errorf("archive: s3 download: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 treats a missing key as success.
func (s *Storage) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 delete: %w", err)
	}
	return nil
}

// Exists issues a HEAD request for the object.
func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nf *types.NotFound
		if stderrors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("archive: s3 head: %w", err)
	}
	return true, nil
}

// List pages through ListObjectsV2 for prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]archive.FileInfo, error) {
	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	var files []archive.FileInfo
	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("archive: s3 list: %w", err)
		}
		for _, obj := range out.Contents {
			fi := archive.FileInfo{
				Path: aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				fi.LastModified = *obj.LastModified
			}
			files = append(files, fi)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func contentType(path string) string {
	if archive.IsReportPath(path) {
		return archive.ReportContentType
	}
	return "application/octet-stream"
}

var _ archive.Storage = (*Storage)(nil)
