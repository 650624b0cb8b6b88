package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/wordcheck/points-engine/points"
)

// UserIDHeader carries the authenticated caller. The gateway in front of
// this service verifies the session token and sets it.
const UserIDHeader = "X-User-ID"

// AdminTokenHeader must match the configured admin token on /api/admin.
const AdminTokenHeader = "X-Admin-Token"

type userIDKey struct{}

func userIDFromContext(ctx context.Context) (points.UserID, bool) {
	id, ok := ctx.Value(userIDKey{}).(points.UserID)
	return id, ok
}

// userID returns the caller. Only valid behind Authenticate.
func userID(r *http.Request) points.UserID {
	id, _ := userIDFromContext(r.Context())
	return id
}

// Authenticate requires a valid X-User-ID.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := points.ParseUserID(r.Header.Get(UserIDHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Missing or invalid user id", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, id)))
	})
}

// RequireAdmin checks X-Admin-Token. An empty configured token disables
// the admin routes entirely.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Admin token required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request through slog.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("remote", r.RemoteAddr))
		})
	}
}
