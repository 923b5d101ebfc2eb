package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"communitysync/pkg/auth"
)

// Logger creates a logging middleware. It must run inside Authenticate to
// see the viewer.
func Logger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
				zap.String("sessionID", r.Header.Get("X-Session-ID")),
				zap.String("remoteAddr", r.RemoteAddr),
			}
			if viewer := auth.ViewerFromContext(r.Context()); viewer != nil {
				fields = append(fields, zap.String("viewerID", viewer.UserID))
			}
			logger.Info("HTTP Request", fields...)
		})
	}
}
