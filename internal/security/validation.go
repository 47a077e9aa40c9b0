// Package security provides the primitives gating every state-changing
// operation: input validation, session hardening, CSRF protection,
// fixed-window rate limiting, and credential generation.
package security

import (
	"html"
	"net"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// NoMin and NoMax disable one side of a ValidateInt range check.
const (
	NoMax = int(^uint(0) >> 1)
	NoMin = -NoMax - 1
)

// domainPattern matches a multi-label hostname: one or more labels of 1-63
// alphanumerics/hyphens (no leading/trailing hyphen) followed by an
// alphabetic TLD of length >= 2.
var domainPattern = regexp.MustCompile(`^(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+(?i:[a-z]{2,})$`)

// SanitizeString trims the input and neutralizes markup-significant
// characters for safe display. It never rejects.
func SanitizeString(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

// SanitizeEmail normalizes an email address and validates its syntax.
// The second return value is false when the address is not RFC-shaped.
func SanitizeEmail(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	return addr.Address, true
}

// ValidateDomain strips a leading http(s) scheme and trailing slashes from
// the input, then accepts the literal "localhost", a syntactically valid
// IPv4 address, or a standard multi-label hostname. Case is preserved; only
// the scheme and slash stripping are applied to the returned value.
func ValidateDomain(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "https://"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "http://"); ok {
		s = after
	}
	s = strings.TrimRight(s, "/")

	if s == "" {
		return "", false
	}
	if strings.EqualFold(s, "localhost") {
		return s, true
	}
	if ip := net.ParseIP(s); ip != nil && ip.To4() != nil {
		return s, true
	}
	if domainPattern.MatchString(s) {
		return s, true
	}
	return "", false
}

// ValidateInt parses an integer and bounds it to [min, max]. Pass NoMin or
// NoMax to leave a side unbounded.
func ValidateInt(s string, min, max int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	if v < min || v > max {
		return 0, false
	}
	return v, true
}

// PasswordResult reports the outcome of a password policy check.
type PasswordResult struct {
	Valid  bool
	Reason string
}

// ValidatePassword enforces the password policy: at least 8 characters,
// at least one letter and one digit.
func ValidatePassword(s string) PasswordResult {
	if len(s) < 8 {
		return PasswordResult{Reason: "Password must be at least 8 characters long"}
	}

	var hasLetter, hasDigit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasLetter {
		return PasswordResult{Reason: "Password must contain at least one letter"}
	}
	if !hasDigit {
		return PasswordResult{Reason: "Password must contain at least one number"}
	}
	return PasswordResult{Valid: true, Reason: "Password is valid"}
}
