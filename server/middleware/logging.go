package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/kbukum/devflow/logger"
)

// RequestLogger logs one line per request once the response is done.
// Probe paths are not logged. Server errors log at error level, client
// errors at warn and the rest at debug.
func RequestLogger(log *logger.Logger) Middleware {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbe(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.code()
			fields := logger.Fields(
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", rec.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			if id := r.Header.Get(HeaderRequestID); id != "" {
				fields["request_id"] = id
			}
			if strings.HasSuffix(r.URL.Path, "/events") {
				fields["stream"] = true
			}

			switch {
			case status >= http.StatusInternalServerError:
				log.Error("Request completed", fields)
			case status >= http.StatusBadRequest:
				log.Warn("Request completed", fields)
			default:
				log.Debug("Request completed", fields)
			}
		})
	}
}

func isProbe(path string) bool {
	switch path {
	case "/health", "/livez", "/readyz":
		return true
	}
	return false
}
