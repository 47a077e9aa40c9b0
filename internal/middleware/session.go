package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"authia/internal/errors"
	"authia/internal/security"
)

type sessionKey struct{}

// Session establishes the request's server-side session through the guard
// and stores it in the request context. Comes before RequireAuth and CSRF.
func Session(guard *security.SessionGuard) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := guard.Initialize(w, r)
			ctx := context.WithValue(r.Context(), sessionKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the session established by the Session
// middleware, or nil when the middleware is not in the chain.
func SessionFromContext(ctx context.Context) *security.Session {
	sess, _ := ctx.Value(sessionKey{}).(*security.Session)
	return sess
}

// ReplaceSession swaps the session stored in the context. Used after a
// login regenerates the session ID.
func ReplaceSession(ctx context.Context, sess *security.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// RequireAuth rejects requests whose session has not completed a login
func RequireAuth(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			if sess == nil || !sess.Authenticated() {
				logger.WarnContext(r.Context(), "unauthenticated request rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRF validates the anti-forgery token on every mutating request before
// the handler runs, so no side effect precedes the check. The token is
// read from the X-CSRF-Token header or the csrf_token form field.
func CSRF(guard *security.CSRFGuard, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			sess := SessionFromContext(r.Context())
			if sess == nil {
				errors.WriteError(w, errors.ErrCSRFValidation)
				return
			}

			token := r.Header.Get("X-CSRF-Token")
			if token == "" {
				token = r.PostFormValue("csrf_token")
			}

			if !guard.Validate(sess, token) {
				logger.WarnContext(r.Context(), "csrf validation failed",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				errors.WriteError(w, errors.ErrCSRFValidation)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
