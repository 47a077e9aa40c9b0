package license

import "time"

// Status is the effective license state derived from a Record and the
// current date. PendingDeletion is an orthogonal overlay, not a Status:
// a record in any state can simultaneously sit in the deletion queue.
type Status string

const (
	// StatusActive: the administrative flag is on and the license has not
	// lapsed.
	StatusActive Status = "active"
	// StatusExpiredFlaggedActive: the administrative flag still reads
	// active but the expiry date has passed. API consumers see this as
	// inactive with an expiry notice.
	StatusExpiredFlaggedActive Status = "expired_flagged_active"
	// StatusInactive: the administrative flag is off.
	StatusInactive Status = "inactive"
)

// DeriveStatus computes the effective status of a record as of today
func DeriveStatus(r *Record, today time.Time) Status {
	if !r.Active {
		return StatusInactive
	}
	if r.Expired(today) {
		return StatusExpiredFlaggedActive
	}
	return StatusActive
}

// CanFlagForDeletion reports whether a record with the given submitted
// values may be flagged for deletion through the guarded edit path: only
// inactive or expired records qualify. The unguarded flag action from the
// expired listing bypasses this check entirely.
func CanFlagForDeletion(active bool, t Type, expiry *time.Time, today time.Time) bool {
	if !active {
		return true
	}
	probe := Record{Type: t, ExpiryDate: expiry, Active: active}
	return probe.Expired(today)
}
