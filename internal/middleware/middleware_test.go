package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authia/internal/security"
)

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetReqID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, w.Header().Get("X-Request-ID"))
}

func TestRequestIDPropagatesHeader(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetReqID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "incoming-id")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "incoming-id", captured)
}

func TestRecovererAnswersProblemJSON(t *testing.T) {
	handler := Recoverer(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Internal Server Error")
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestThroughputLimiter(t *testing.T) {
	tl := NewThroughputLimiter(1, 2, slog.Default())
	handler := tl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// The burst admits the first two requests; the third is shed
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func sessionChain(t *testing.T) (*security.SessionGuard, *security.CSRFGuard, func(http.Handler) http.Handler) {
	t.Helper()
	store := security.NewMemoryStore(time.Hour)
	t.Cleanup(store.Stop)
	guard := security.NewSessionGuard(store, "test_session", time.Hour, slog.Default())
	csrfGuard := security.NewCSRFGuard()

	chain := func(final http.Handler) http.Handler {
		return Session(guard)(CSRF(csrfGuard, slog.Default())(final))
	}
	return guard, csrfGuard, chain
}

func TestCSRFMiddlewareAllowsSafeMethods(t *testing.T) {
	_, _, chain := sessionChain(t)
	handler := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRFMiddlewareBlocksMutationWithoutToken(t *testing.T) {
	_, _, chain := sessionChain(t)
	reached := false
	handler := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, reached, "handler must not run after a failed token check")
}

func TestCSRFMiddlewareAcceptsValidToken(t *testing.T) {
	_, csrfGuard, chain := sessionChain(t)

	var token string
	issue := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = csrfGuard.IssueToken(SessionFromContext(r.Context()))
	}))

	w := httptest.NewRecorder()
	issue.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, token)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "test_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	handler := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(cookie)
	r.Header.Set("X-CSRF-Token", token)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, r)

	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestRequireAuth(t *testing.T) {
	guard, _, _ := sessionChain(t)

	protected := Session(guard)(RequireAuth(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	// Unauthenticated session is rejected
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Authenticate the session, then retry with its cookie
	var cookie *http.Cookie
	login := Session(guard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SessionFromContext(r.Context()).SetAuthenticated(1)
	}))
	w2 := httptest.NewRecorder()
	login.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, c := range w2.Result().Cookies() {
		if c.Name == "test_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	w3 := httptest.NewRecorder()
	protected.ServeHTTP(w3, r)
	assert.Equal(t, http.StatusOK, w3.Code)
}
