// Package store persists license records, API keys and the admin identity
// in an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"authia/internal/license"
)

const schema = `
CREATE TABLE IF NOT EXISTS domains (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	domain      TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	license_type TEXT NOT NULL DEFAULT 'monthly',
	expiry_date TEXT,
	active      INTEGER NOT NULL DEFAULT 1,
	pending_deletion INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS licenses (
	domain_id INTEGER PRIMARY KEY,
	api_key   TEXT NOT NULL,
	FOREIGN KEY (domain_id) REFERENCES domains(id)
);

CREATE TABLE IF NOT EXISTS users (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	username       TEXT NOT NULL UNIQUE,
	email          TEXT NOT NULL DEFAULT '',
	password_hash  TEXT NOT NULL,
	remember_token TEXT,
	reset_token    TEXT,
	reset_token_expires TEXT
);

CREATE INDEX IF NOT EXISTS idx_domains_domain ON domains(domain);
`

// DB wraps the SQLite handle and implements license.Store plus the admin
// user store.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and
// bootstraps the schema. Pragmas follow the usual embedded-SQLite setup:
// WAL journaling, foreign keys on, a busy timeout instead of immediate
// lock failures.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite doesn't support multiple writers, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies the connection is still alive
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

const recordColumns = "id, domain, name, email, message, license_type, expiry_date, active, pending_deletion"

func scanRecord(row interface{ Scan(...any) error }) (*license.Record, error) {
	var rec license.Record
	var licenseType string
	var expiry sql.NullString
	var active, pending int

	if err := row.Scan(&rec.ID, &rec.Domain, &rec.ClientName, &rec.Email, &rec.Message,
		&licenseType, &expiry, &active, &pending); err != nil {
		return nil, err
	}

	rec.Type = license.Type(licenseType)
	rec.Active = active != 0
	rec.PendingDeletion = pending != 0
	if expiry.Valid && expiry.String != "" {
		d, err := license.ParseDate(expiry.String)
		if err != nil {
			return nil, fmt.Errorf("malformed expiry date %q: %w", expiry.String, err)
		}
		rec.ExpiryDate = d
	}
	return &rec, nil
}

func expiryValue(d *time.Time) any {
	if d == nil {
		return nil
	}
	return license.FormatDate(d)
}

// CreateRecord inserts a new license record and returns its id
func (d *DB) CreateRecord(ctx context.Context, rec *license.Record) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO domains (domain, name, email, message, license_type, expiry_date, active, pending_deletion)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Domain, rec.ClientName, rec.Email, rec.Message, string(rec.Type),
		expiryValue(rec.ExpiryDate), boolInt(rec.Active), boolInt(rec.PendingDeletion))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetRecord fetches one record by id
func (d *DB) GetRecord(ctx context.Context, id int64) (*license.Record, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM domains WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, license.ErrRecordNotFound
	}
	return rec, err
}

// GetRecordByDomain fetches one record by its domain name
func (d *DB) GetRecordByDomain(ctx context.Context, domain string) (*license.Record, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM domains WHERE domain = ?", domain)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, license.ErrDomainNotFound
	}
	return rec, err
}

// UpdateRecord overwrites every mutable field of a record. Last writer
// wins; there is no version check.
func (d *DB) UpdateRecord(ctx context.Context, rec *license.Record) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE domains SET domain=?, name=?, email=?, message=?, license_type=?,
		 expiry_date=?, active=?, pending_deletion=? WHERE id=?`,
		rec.Domain, rec.ClientName, rec.Email, rec.Message, string(rec.Type),
		expiryValue(rec.ExpiryDate), boolInt(rec.Active), boolInt(rec.PendingDeletion), rec.ID)
	return err
}

// DeleteRecord removes a record row
func (d *DB) DeleteRecord(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM domains WHERE id = ?", id)
	return err
}

// SetDeletionFlag sets or clears the pending-deletion marker
func (d *DB) SetDeletionFlag(ctx context.Context, id int64, flagged bool) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE domains SET pending_deletion = ? WHERE id = ?", boolInt(flagged), id)
	return err
}

// SetRenewal stores a new expiry date and reactivates the record
func (d *DB) SetRenewal(ctx context.Context, id int64, expiry time.Time) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE domains SET expiry_date = ?, active = 1 WHERE id = ?",
		expiry.Format(license.DateLayout), id)
	return err
}

func searchClause(search string, args []any) (string, []any) {
	if search == "" {
		return "", args
	}
	pattern := "%" + search + "%"
	return " AND (name LIKE ? OR email LIKE ? OR domain LIKE ?)",
		append(args, pattern, pattern, pattern)
}

func (d *DB) queryRecords(ctx context.Context, query string, args ...any) ([]license.Record, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []license.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// ListRecords returns every record, optionally filtered by a substring
// search over name, email and domain.
func (d *DB) ListRecords(ctx context.Context, search string) ([]license.Record, error) {
	query := "SELECT " + recordColumns + " FROM domains WHERE 1=1"
	clause, args := searchClause(search, nil)
	return d.queryRecords(ctx, query+clause+" ORDER BY id", args...)
}

// ListExpired returns lapsed non-lifetime records that are not flagged for
// deletion.
func (d *DB) ListExpired(ctx context.Context, search string, today time.Time) ([]license.Record, error) {
	query := "SELECT " + recordColumns + ` FROM domains
		WHERE license_type != 'lifetime' AND expiry_date IS NOT NULL
		AND expiry_date < ? AND pending_deletion = 0`
	args := []any{today.Format(license.DateLayout)}
	clause, args := searchClause(search, args)
	return d.queryRecords(ctx, query+clause+" ORDER BY expiry_date", args...)
}

// ListDeletionQueue returns records flagged for deletion
func (d *DB) ListDeletionQueue(ctx context.Context, search string) ([]license.Record, error) {
	query := "SELECT " + recordColumns + " FROM domains WHERE pending_deletion = 1"
	clause, args := searchClause(search, nil)
	return d.queryRecords(ctx, query+clause+" ORDER BY id", args...)
}

// Stats aggregates dashboard counters in one pass
func (d *DB) Stats(ctx context.Context, today time.Time) (*license.Stats, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN active = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN license_type != 'lifetime' AND expiry_date IS NOT NULL AND expiry_date < ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN pending_deletion = 1 THEN 1 ELSE 0 END)
		FROM domains`, today.Format(license.DateLayout))

	var stats license.Stats
	var active, inactive, expired, pending sql.NullInt64
	if err := row.Scan(&stats.Total, &active, &inactive, &expired, &pending); err != nil {
		return nil, err
	}
	stats.Active = int(active.Int64)
	stats.Inactive = int(inactive.Int64)
	stats.Expired = int(expired.Int64)
	stats.PendingDeletion = int(pending.Int64)
	return &stats, nil
}

// GetAPIKey returns the key bound to a record. An absent key reports
// license.ErrInvalidAPIKey so the validation endpoint treats "no key" and
// "wrong key" identically.
func (d *DB) GetAPIKey(ctx context.Context, recordID int64) (string, error) {
	var key string
	err := d.db.QueryRowContext(ctx,
		"SELECT api_key FROM licenses WHERE domain_id = ?", recordID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", license.ErrInvalidAPIKey
	}
	return key, err
}

// UpsertAPIKey binds a key to a record, replacing any previous one.
// Regeneration overwrites, never appends.
func (d *DB) UpsertAPIKey(ctx context.Context, recordID int64, key string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO licenses (domain_id, api_key) VALUES (?, ?)
		 ON CONFLICT(domain_id) DO UPDATE SET api_key = excluded.api_key`,
		recordID, key)
	return err
}

// DeleteAPIKey removes the key bound to a record
func (d *DB) DeleteAPIKey(ctx context.Context, recordID int64) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM licenses WHERE domain_id = ?", recordID)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
