package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

// RequestLogger emits one structured log line per completed request.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chimw.GetReqID(r.Context())
			if reqID == "" {
				reqID = r.Header.Get("X-Request-ID")
			}
			if reqID == "" {
				reqID = uuid.NewString()
			}
			seen := &seenActor{}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), seenActorKey{}, seen)))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", reqID,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			actor, ok := tenancy.ActorFromContext(r.Context())
			if seen.ok {
				actor, ok = seen.actor, true
			}
			if ok {
				attrs = append(attrs, "user_id", actor.UserID, "role", actor.Role)
				if actor.OrgID != "" {
					attrs = append(attrs, "org_id", actor.OrgID)
				}
			}

			switch {
			case ww.Status() >= http.StatusInternalServerError:
				logger.Error("request completed", attrs...)
			case ww.Status() >= http.StatusBadRequest:
				logger.Warn("request completed", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
		})
	}
}

type seenActorKey struct{}

type seenActor struct {
	actor tenancy.Actor
	ok    bool
}

// RecordActor makes the caller resolved by inner middleware visible to
// RequestLogger, which wraps the request before authentication runs.
func RecordActor(ctx context.Context, actor tenancy.Actor) {
	if seen, ok := ctx.Value(seenActorKey{}).(*seenActor); ok {
		seen.actor, seen.ok = actor, true
	}
}
