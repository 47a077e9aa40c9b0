package security

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Store persists session-scoped state: session values, CSRF tokens and
// rate-limit buckets. Implementations must be safe for concurrent use.
// Scopes are independent key-value namespaces; a session ID is a scope.
type Store interface {
	Get(scope, key string) (interface{}, bool)
	Put(scope, key string, value interface{})
	// Update replaces the value under (scope, key) with fn's result while
	// the store's lock is held, so read-modify-write sequences lose no
	// writes under concurrent callers. fn receives the current value and
	// whether one exists.
	Update(scope, key string, fn func(current interface{}, ok bool) interface{})
	Delete(scope, key string)
	DestroyScope(scope string)
}

// memoryEntry is a scope map plus its expiry deadline
type memoryEntry struct {
	values   map[string]interface{}
	deadline time.Time
}

// MemoryStore is the in-process Store implementation. Scopes expire after
// the configured TTL measured from their last write.
type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string]*memoryEntry
	ttl    time.Duration
	done   chan struct{}
	once   sync.Once
}

// NewMemoryStore creates a memory store whose scopes live for ttl after
// their last write. A background janitor reclaims expired scopes.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		scopes: make(map[string]*memoryEntry),
		ttl:    ttl,
		done:   make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for scope, entry := range s.scopes {
				if now.After(entry.deadline) {
					delete(s.scopes, scope)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Get returns the value stored under (scope, key)
func (s *MemoryStore) Get(scope, key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.scopes[scope]
	if !ok || time.Now().After(entry.deadline) {
		return nil, false
	}
	v, ok := entry.values[key]
	return v, ok
}

// Put stores a value under (scope, key) and refreshes the scope TTL
func (s *MemoryStore) Put(scope, key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.scopes[scope]
	if !ok {
		entry = &memoryEntry{values: make(map[string]interface{})}
		s.scopes[scope] = entry
	}
	entry.values[key] = value
	entry.deadline = time.Now().Add(s.ttl)
}

// Update applies fn to the value under (scope, key) inside the critical
// section and refreshes the scope TTL
func (s *MemoryStore) Update(scope, key string, fn func(current interface{}, ok bool) interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.scopes[scope]
	if !ok || time.Now().After(entry.deadline) {
		entry = &memoryEntry{values: make(map[string]interface{})}
		s.scopes[scope] = entry
	}
	v, present := entry.values[key]
	entry.values[key] = fn(v, present)
	entry.deadline = time.Now().Add(s.ttl)
}

// Delete removes a single key from a scope
func (s *MemoryStore) Delete(scope, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.scopes[scope]; ok {
		delete(entry.values, key)
	}
}

// DestroyScope removes a scope and all its values
func (s *MemoryStore) DestroyScope(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, scope)
}

// Stop shuts down the janitor goroutine
func (s *MemoryStore) Stop() {
	s.once.Do(func() { close(s.done) })
}

// Session keys used by the guards and handlers
const (
	sessionKeyUserAgent     = "user_agent"
	sessionKeyAuthenticated = "authenticated"
	sessionKeyUserID        = "user_id"
	sessionKeyCSRFToken     = "csrf_token"
	SessionKeyResetStep     = "reset_step"
	SessionKeyResetUserID   = "reset_user_id"
)

// Session is a handle to one client's server-side session state
type Session struct {
	ID    string
	store Store
}

// Get returns a session value
func (s *Session) Get(key string) (interface{}, bool) {
	return s.store.Get(s.ID, key)
}

// Put stores a session value
func (s *Session) Put(key string, value interface{}) {
	s.store.Put(s.ID, key, value)
}

// Delete removes a session value
func (s *Session) Delete(key string) {
	s.store.Delete(s.ID, key)
}

// Authenticated reports whether the session completed a login
func (s *Session) Authenticated() bool {
	v, ok := s.Get(sessionKeyAuthenticated)
	return ok && v == true
}

// SetAuthenticated marks the session as logged in for the given admin user
func (s *Session) SetAuthenticated(userID int64) {
	s.Put(sessionKeyAuthenticated, true)
	s.Put(sessionKeyUserID, userID)
}

// UserID returns the admin user id bound to the session, if authenticated
func (s *Session) UserID() (int64, bool) {
	v, ok := s.Get(sessionKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// SessionGuard establishes and hardens server-side sessions. It binds each
// session to the client's User-Agent; a later mismatch destroys the session
// and silently starts a fresh one.
type SessionGuard struct {
	store      Store
	cookieName string
	ttl        time.Duration
	logger     *slog.Logger
}

// NewSessionGuard creates a session guard backed by the given store
func NewSessionGuard(store Store, cookieName string, ttl time.Duration, logger *slog.Logger) *SessionGuard {
	return &SessionGuard{
		store:      store,
		cookieName: cookieName,
		ttl:        ttl,
		logger:     logger.With(slog.String("component", "session_guard")),
	}
}

// Initialize returns the request's session, creating one if absent. If the
// observed User-Agent differs from the one bound at first use, the old
// session is destroyed and a fresh unauthenticated one is started; callers
// must treat the result as not authenticated afterward, not as an error.
func (g *SessionGuard) Initialize(w http.ResponseWriter, r *http.Request) *Session {
	if cookie, err := r.Cookie(g.cookieName); err == nil && cookie.Value != "" {
		sess := &Session{ID: cookie.Value, store: g.store}
		if bound, ok := sess.Get(sessionKeyUserAgent); ok {
			if bound == r.UserAgent() {
				return sess
			}
			// Hijack signal: fail closed by replacing the session.
			g.logger.WarnContext(r.Context(), "session user-agent mismatch, restarting session",
				slog.String("session_id", maskToken(sess.ID)))
			g.store.DestroyScope(sess.ID)
		}
	}

	return g.start(w, r)
}

// start creates a fresh session bound to the request's User-Agent
func (g *SessionGuard) start(w http.ResponseWriter, r *http.Request) *Session {
	sess := &Session{ID: newSessionID(), store: g.store}
	sess.Put(sessionKeyUserAgent, r.UserAgent())
	g.setCookie(w, r, sess.ID, int(g.ttl.Seconds()))
	return sess
}

// Regenerate replaces the session ID while keeping its state, preventing
// session fixation across privilege changes. Called on successful login.
func (g *SessionGuard) Regenerate(w http.ResponseWriter, r *http.Request, sess *Session) *Session {
	fresh := &Session{ID: newSessionID(), store: g.store}
	for _, key := range []string{sessionKeyUserAgent, sessionKeyAuthenticated, sessionKeyUserID} {
		if v, ok := sess.Get(key); ok {
			fresh.Put(key, v)
		}
	}
	g.store.DestroyScope(sess.ID)
	g.setCookie(w, r, fresh.ID, int(g.ttl.Seconds()))
	return fresh
}

// Destroy clears all session state and expires the session cookie
func (g *SessionGuard) Destroy(w http.ResponseWriter, r *http.Request, sess *Session) {
	g.store.DestroyScope(sess.ID)
	g.setCookie(w, r, "", -1)
}

func (g *SessionGuard) setCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	cookie := &http.Cookie{
		Name:     g.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	}
	if maxAge < 0 {
		cookie.Expires = time.Unix(0, 0)
	}
	http.SetCookie(w, cookie)
}

// newSessionID returns a 64-character hex session identifier
func newSessionID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure is unrecoverable for session issuance
		panic("security: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// maskToken shortens a secret for logging
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
