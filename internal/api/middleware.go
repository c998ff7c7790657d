package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/auth/session"
	"github.com/pysugar/area-nexus/internal/logging"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// RequestID stores the caller's X-Request-ID, or a generated one, in the
// request context and echoes it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// SessionAuth requires a valid "Authorization: Bearer <session token>" and
// stores the user id in the request context.
func SessionAuth(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeMessage(w, http.StatusUnauthorized, apperr.KindAuthentication, "missing session token")
				return
			}
			claims, err := sessions.Validate(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), claims.UserID)))
		})
	}
}

// AdminAuth protects a route with HTTP basic auth when password is set.
func AdminAuth(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="AREA Admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func currentUser(r *http.Request) string {
	return logging.GetUserID(r.Context())
}
