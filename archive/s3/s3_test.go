package s3

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/kbukum/devflow/archive"
)

func TestNewStorageOptions(t *testing.T) {
	tests := []struct {
		name      string
		cfg       archive.Config
		pathStyle bool
		endpoint  string
	}{
		{"aws", archive.Config{Bucket: "b", Region: "eu-west-1"}, false, ""},
		{"custom endpoint", archive.Config{Bucket: "b", Region: "us-east-1", Endpoint: "http://localhost:9000"}, true, "http://localhost:9000"},
		{"forced path style", archive.Config{Bucket: "b", Region: "us-east-1", ForcePathStyle: true}, true, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.AccessKey, tc.cfg.SecretKey = "key", "secret"
			s, err := NewStorage(context.Background(), tc.cfg)
			if err != nil {
				t.Fatalf("NewStorage: %v", err)
			}
			opts := s.client.Options()
			if opts.UsePathStyle != tc.pathStyle {
				t.Errorf("UsePathStyle = %v, want %v", opts.UsePathStyle, tc.pathStyle)
			}
			if got := aws.ToString(opts.BaseEndpoint); got != tc.endpoint {
				t.Errorf("BaseEndpoint = %q, want %q", got, tc.endpoint)
			}
			if opts.Region != tc.cfg.Region {
				t.Errorf("Region = %q", opts.Region)
			}
			if s.bucket != "b" {
				t.Errorf("bucket = %q", s.bucket)
			}
		})
	}
}

func TestContentType(t *testing.T) {
	if got := contentType("reports/f/r.json"); got != archive.ReportContentType {
		t.Errorf("contentType(json) = %q", got)
	}
	if got := contentType("reports/f/r.log"); got != "application/octet-stream" {
		t.Errorf("contentType(log) = %q", got)
	}
}

func TestFactoryRegistered(t *testing.T) {
	found := false
	for _, p := range archive.Providers() {
		if p == archive.ProviderS3 {
			found = true
		}
	}
	if !found {
		t.Errorf("providers = %v, want s3 registered", archive.Providers())
	}
}
