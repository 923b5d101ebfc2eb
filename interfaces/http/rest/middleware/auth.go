package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"communitysync/pkg/auth"
	"communitysync/pkg/errors"
)

// TokenValidator validates a bearer token and returns its claims
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// ViewerLimiter decides whether a viewer may issue one more mutation
type ViewerLimiter interface {
	Allow(ctx context.Context, viewerID string) (bool, error)
}

// Authenticate resolves the viewer from the Authorization header. Requests
// without one proceed anonymously; a header that does not validate is
// rejected with 401.
func Authenticate(validator TokenValidator, errHandler *errors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := extractToken(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			if token == "" {
				errHandler.Handle(w, r, errors.NewUnauthorizedError("Invalid authorization header format"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.Warn("Invalid token",
					zap.Error(err),
					zap.String("ip", r.RemoteAddr),
					zap.String("path", r.URL.Path),
				)
				switch err {
				case auth.ErrExpiredToken:
					errHandler.Handle(w, r, errors.NewUnauthorizedError("Token has expired"))
				case auth.ErrInvalidSignature:
					errHandler.Handle(w, r, errors.NewUnauthorizedError("Invalid token signature"))
				default:
					errHandler.Handle(w, r, errors.NewUnauthorizedError("Invalid token"))
				}
				return
			}

			ctx := auth.WithViewer(r.Context(), &auth.Viewer{
				UserID: claims.UserID,
				Email:  claims.Email,
				Roles:  claims.Roles,
				Token:  token,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LimitMutations throttles state-changing requests per viewer. Anonymous
// requests pass; the coordinator rejects their mutations anyway.
func LimitMutations(limiter ViewerLimiter, errHandler *errors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewer := auth.ViewerFromContext(r.Context())
			if viewer == nil || isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), viewer.UserID)
			if err != nil {
				logger.Error("Rate limiter error", zap.Error(err))
				errHandler.Handle(w, r, errors.NewInternalError("Internal server error"))
				return
			}
			if !allowed {
				errHandler.Handle(w, r, errors.RateLimited("viewer"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken returns the bearer token and whether an Authorization header
// was sent at all.
func extractToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
