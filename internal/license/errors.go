package license

import "errors"

// Sentinel errors for domain conditions. Handlers map these with errors.Is;
// the public validation endpoint deliberately gives ErrDomainNotFound and
// ErrInvalidAPIKey identical response shapes.
var (
	ErrDomainNotFound     = errors.New("domain not found")
	ErrRecordNotFound     = errors.New("license record not found")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrIllegalTransition  = errors.New("illegal license transition")
	ErrLifetimeNoRenewal  = errors.New("lifetime licenses cannot be renewed")
	ErrNoContactEmail     = errors.New("no email address on record")
	ErrNotificationFailed = errors.New("notification delivery failed")
)
