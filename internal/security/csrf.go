package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

// CSRFGuard issues and validates the per-session anti-forgery token.
// A single token guards all mutating forms in a session.
type CSRFGuard struct{}

// NewCSRFGuard creates a CSRF guard
func NewCSRFGuard() *CSRFGuard {
	return &CSRFGuard{}
}

// IssueToken returns the session's CSRF token, generating one if absent.
// Idempotent within a session: repeated calls return the same token.
func (g *CSRFGuard) IssueToken(sess *Session) string {
	if v, ok := sess.Get(sessionKeyCSRFToken); ok {
		if token, ok := v.(string); ok && token != "" {
			return token
		}
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("security: crypto/rand unavailable: " + err.Error())
	}
	token := hex.EncodeToString(b)
	sess.Put(sessionKeyCSRFToken, token)
	return token
}

// Validate reports whether the supplied token matches the session's token.
// Missing or empty input is a hard false; the comparison is constant-time.
func (g *CSRFGuard) Validate(sess *Session, supplied string) bool {
	if supplied == "" {
		return false
	}
	v, ok := sess.Get(sessionKeyCSRFToken)
	if !ok {
		return false
	}
	token, ok := v.(string)
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(supplied)) == 1
}
