package visitor

import (
	"context"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-Id"

type ctxKeyRequestID struct{}

// RequestID returns the id assigned by RequestLog, or "" outside of it.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

// RequestLog tags each request with an id and writes one access log entry when it completes.
// An incoming X-Request-Id is kept.
func RequestLog(logger *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)
		r = r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID{}, id))

		m := httpsnoop.CaptureMetrics(next, w, r)

		logger.With(
			zap.String("requestID", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", m.Code),
			zap.Int64("bytes", m.Written),
			zap.Duration("duration", m.Duration),
		).Infof("access")
	})
}

// Recover turns a panic in next into a 500 response instead of a dropped connection.
func Recover(logger *zap.SugaredLogger, next http.Handler) http.Handler {
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger.Desugar())),
		handlers.PrintRecoveryStack(false),
	)(next)
}
