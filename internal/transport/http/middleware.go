package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/logger"
)

type contextKey string

const identityCtxKey contextKey = "identity"

const (
	headerUserID   = "X-User-Id"
	headerUserName = "X-User-Name"
	headerUserRole = "X-User-Role"
)

// Identity reads the caller asserted by the upstream auth layer. Missing headers yield an
// empty identity; handlers decide whether that is acceptable.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := domain.Identity{
			UserID: r.Header.Get(headerUserID),
			Name:   r.Header.Get(headerUserName),
			Role:   r.Header.Get(headerUserRole),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityCtxKey, id)))
	})
}

func identityFrom(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityCtxKey).(domain.Identity)
	return id
}

// requestLogger writes one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Info().
				Str("requestId", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}
