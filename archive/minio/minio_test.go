package minio

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/kbukum/devflow/archive"
)

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(archive.Config{
		Bucket:    "devflow",
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	if s.bucket != "devflow" {
		t.Errorf("bucket = %q", s.bucket)
	}
	if got := s.client.EndpointURL().Host; got != "localhost:9000" {
		t.Errorf("endpoint = %q", got)
	}
	if s.client.EndpointURL().Scheme != "http" {
		t.Errorf("scheme = %q, want http without use_ssl", s.client.EndpointURL().Scheme)
	}
}

func TestNewStorageRejectsSchemeInEndpoint(t *testing.T) {
	_, err := NewStorage(archive.Config{Bucket: "b", Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "s"})
	if err == nil {
		t.Error("expected error for endpoint with a scheme")
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{"not found", minio.ErrorResponse{Code: "NotFound"}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied"}, false},
		{"plain error", errors.New("dial tcp: refused"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isNotFound(tc.err); got != tc.want {
				t.Errorf("isNotFound = %v, want %v", got, tc.want)
			}
		})
	}
}
