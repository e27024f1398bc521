package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/quickdish-ng/storefront-backend/api/responses"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
	"github.com/quickdish-ng/storefront-backend/pkg/redis"
)

const IdempotencyKeyHeader = "X-Idempotency-Key"

// inflightTTL bounds how long a crashed request can hold the lock.
const inflightTTL = 30 * time.Second

type idempotencyKeyCtx struct{}

// IdempotencyKeyFromContext returns the key extracted by the middleware.
func IdempotencyKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyCtx{}).(string); ok {
		return key
	}
	return ""
}

// Idempotency requires an idempotency key on the request and holds a
// short-lived lock on it while the handler runs. Replays after completion
// pass through; the database decides what a replay gets back. Concurrent
// duplicates are rejected instead of racing.
func Idempotency(store redis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" {
				responses.Error(r.Context(), w, logg,
					pkgerrors.New(pkgerrors.CodeValidation, "X-Idempotency-Key header is required"))
				return
			}

			ctx := context.WithValue(r.Context(), idempotencyKeyCtx{}, key)

			if store != nil {
				lockKey := store.IdempotencyKey("checkout:inflight", key)
				acquired, err := store.SetNX(ctx, lockKey, "1", inflightTTL)
				if err != nil {
					// Redis being down must not block checkout; the database
					// idempotency constraint still holds.
					logg.Warn(logg.WithField(ctx, "error", err.Error()),
						"idempotency lock unavailable, relying on database constraint")
				} else if !acquired {
					responses.Error(ctx, w, logg,
						pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is already in progress"))
					return
				} else {
					defer func() {
						if delErr := store.Del(context.WithoutCancel(ctx), lockKey); delErr != nil {
							logg.Warn(ctx, "failed to release idempotency lock")
						}
					}()
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
