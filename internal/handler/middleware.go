package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/bank-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type contextKey string

const ownerIDKey contextKey = "ownerID"

// JWTAuthMiddleware validates Bearer tokens and injects the owner id into context.
func JWTAuthMiddleware(tokens *service.TokenService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header")
				return
			}

			ownerID, err := tokens.Validate(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOwnerParam rejects requests whose token subject differs from the
// {ownerId} path parameter. It is a no-op when no token was validated.
func RequireOwnerParam(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := authorizeOwner(r.Context(), chi.URLParam(r, "ownerId")); err != nil {
				handleServiceError(w, err, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorizeOwner checks ownerID against the authenticated caller, if any.
func authorizeOwner(ctx context.Context, ownerID string) error {
	caller, ok := ctx.Value(ownerIDKey).(string)
	if !ok {
		return nil
	}
	if caller != ownerID {
		return &domain.ErrForbidden{Action: "act on behalf of owner " + ownerID}
	}
	return nil
}

// OwnerIDFromContext extracts the authenticated owner id from context.
func OwnerIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ownerIDKey).(string)
	return v
}

// BulkheadMiddleware caps the number of mutating requests in flight. A
// request that gives up while waiting gets 503.
func BulkheadMiddleware(b *resilience.Bulkhead, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := b.Acquire(r.Context()); err != nil {
				logger.Warn("bulkhead: request abandoned while waiting",
					zap.String("path", r.URL.Path),
					zap.Int("in_flight", b.InFlight()),
				)
				writeError(w, http.StatusServiceUnavailable, "busy", "too many concurrent requests")
				return
			}
			defer b.Release()
			next.ServeHTTP(w, r)
		})
	}
}
