package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/logging"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

type ctxKey struct{}

// RequestID returns the id assigned by WithRequestLogging, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// WithRequestLogging tags every request with an id (reusing the caller's
// X-Request-ID when present) and logs one line per request.
func WithRequestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	logger = logger.Named("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)

		lvl := zap.InfoLevel
		if r.URL.Path == "/health" {
			lvl = zap.DebugLevel
		}
		logger.Log(lvl, "request",
			zap.String(logging.FieldRequestID, id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int(logging.FieldStatus, rec.status),
			zap.String("user", r.Header.Get("x-user-id")),
			zap.Duration("elapsed", time.Since(started)))
	})
}
