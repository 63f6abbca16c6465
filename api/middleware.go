package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/warp/shop-engine/ledger"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorName = "X-Actor-Name"
)

type ctxKey int

const actorKey ctxKey = iota

// requestLogger writes one access line per request through logrus.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"latency_ms": time.Since(start).Milliseconds(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			switch {
			case ww.Status() >= 500:
				entry.Error("request failed")
			case ww.Status() >= 400:
				entry.Warn("request rejected")
			default:
				entry.Info("request served")
			}
		})
	}
}

// requireActor rejects requests without an X-Actor-ID header and stores
// the actor in the request context. Identity is trusted as given.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ledger.Actor{
			ID:   strings.TrimSpace(r.Header.Get(headerActorID)),
			Name: strings.TrimSpace(r.Header.Get(headerActorName)),
		}
		if actor.ID == "" {
			writeError(w, http.StatusBadRequest, "Missing "+headerActorID+" header", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(ctx context.Context) ledger.Actor {
	actor, _ := ctx.Value(actorKey).(ledger.Actor)
	return actor
}
