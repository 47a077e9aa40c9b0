// Package license implements the domain-license lifecycle: the record
// model, the derived state machine, and the operations that create, renew,
// flag, and validate licenses.
package license

import (
	"time"
)

// Type is the billing cadence controlling expiry computation
type Type string

const (
	TypeMonthly  Type = "monthly"
	TypeYearly   Type = "yearly"
	TypeLifetime Type = "lifetime"
)

// Valid reports whether t is a known license type
func (t Type) Valid() bool {
	switch t {
	case TypeMonthly, TypeYearly, TypeLifetime:
		return true
	}
	return false
}

// DateLayout is the canonical wire and storage format for expiry dates
const DateLayout = "2006-01-02"

// Record is a persisted domain license row. Status is never stored; it is
// derived from Active, Type and ExpiryDate at read time.
type Record struct {
	ID              int64
	Domain          string
	ClientName      string
	Email           string
	Message         string
	Type            Type
	ExpiryDate      *time.Time // nil for lifetime licenses
	Active          bool
	PendingDeletion bool
}

// Expired reports whether the record's license has lapsed as of today.
// Lifetime licenses never expire.
func (r *Record) Expired(today time.Time) bool {
	if r.Type == TypeLifetime || r.ExpiryDate == nil {
		return false
	}
	return dateOnly(today).After(dateOnly(*r.ExpiryDate))
}

// ExpiryFor computes the expiry date a license of type t gets when issued
// or renewed on the given day: +30 days for monthly, +1 year for yearly,
// none for lifetime.
func ExpiryFor(t Type, today time.Time) *time.Time {
	switch t {
	case TypeMonthly:
		d := dateOnly(today).AddDate(0, 0, 30)
		return &d
	case TypeYearly:
		d := dateOnly(today).AddDate(1, 0, 0)
		return &d
	default:
		return nil
	}
}

// FormatDate renders an expiry date for storage and API responses; nil
// renders as the empty string.
func FormatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(DateLayout)
}

// ParseDate parses a date in the canonical layout; empty input is nil.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Stats summarizes the license table for the dashboard
type Stats struct {
	Total           int `json:"total"`
	Active          int `json:"active"`
	Inactive        int `json:"inactive"`
	Expired         int `json:"expired"`
	PendingDeletion int `json:"pending_deletion"`
}
