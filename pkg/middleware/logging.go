package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/statsync/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger tags each request with a request id, stores a request-scoped
// logger in the context and logs the outcome
func RequestLogger(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		reqLog := log.WithRequestID(requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(reqLog.ToContext(r.Context())))

		event := reqLog.Info()
		if rec.status >= http.StatusInternalServerError {
			event = reqLog.Error()
		} else if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			event = reqLog.Debug()
		}
		event.
			Str("action", "http_request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
