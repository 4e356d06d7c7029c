package middleware

import (
	"net/http"

	"github.com/docker/go-units"
)

const defaultMaxBodySize = 10 * 1024 * 1024 // 10MB

// ParseSize converts a size string such as "10MB" or "512KB" to bytes,
// returning fallback for empty or malformed input.
func ParseSize(size string, fallback int64) int64 {
	if size == "" {
		return fallback
	}
	n, err := units.RAMInBytes(size)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// BodySizeLimit returns middleware that restricts the request body to the given
// size string (e.g. "10MB", "512KB", "1GB").
func BodySizeLimit(maxSize string) Middleware {
	size := ParseSize(maxSize, defaultMaxBodySize)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, size)
			}
			next.ServeHTTP(w, r)
		})
	}
}
