package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/roomsync/pkg/metrics"
)

// errorKinds labels failed responses by the error code their status carries.
var errorKinds = map[int]string{
	http.StatusBadRequest:          "invalid_payload",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            "room_not_found",
	http.StatusConflict:            "invalid_status",
	http.StatusUnprocessableEntity: "no_players",
	http.StatusUpgradeRequired:     "version_mismatch",
	http.StatusTooManyRequests:     "rate_limited",
}

func errorKind(status int) string {
	if k, ok := errorKinds[status]; ok {
		return k
	}
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "client_error"
}

// MetricsMiddleware records request count, latency and error class for endpoint.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(rec, r)

		status := rec.status()
		code := strconv.Itoa(status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, float64(time.Since(start).Microseconds())/1000)
		if status >= http.StatusBadRequest {
			metrics.RecordErrorByEndpoint(endpoint, r.Method, errorKind(status))
		}
	}
}

// statusRecorder remembers the first status written.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
