package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/infra/resilience"
	"github.com/boddenberg/retail-ledger/internal/service"
)

type contextKey string

const callerKey contextKey = "caller"

// CallerAuthMiddleware validates caller Bearer tokens and injects the caller
// name into the context.
func CallerAuthMiddleware(tokens *service.CallerTokens, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing caller token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := tokens.Parse(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, claims.Caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext returns the authenticated caller, or "" when auth is off.
func CallerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(callerKey).(string)
	return v
}

// BulkheadMiddleware caps in-flight requests. A request that cannot get a
// slot within wait gets 503.
func BulkheadMiddleware(b *resilience.Bulkhead, wait time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := b.AcquireWithin(r.Context(), wait); err != nil {
				logger.Warn("bulkhead: request dropped",
					zap.String("path", r.URL.Path),
					zap.Int("in_flight", b.InFlight()),
					zap.Error(err),
				)
				writeError(w, http.StatusServiceUnavailable, "server busy")
				return
			}
			defer b.Release()
			next.ServeHTTP(w, r)
		})
	}
}
