package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned when no admin user matches the lookup
var ErrUserNotFound = errors.New("user not found")

// AdminUser is a panel operator account
type AdminUser struct {
	ID            int64
	Username      string
	Email         string
	PasswordHash  string
	RememberToken string
}

const userColumns = "id, username, email, password_hash, COALESCE(remember_token, '')"

func (d *DB) scanUser(row *sql.Row) (*AdminUser, error) {
	var u AdminUser
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.RememberToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches an admin account by login name
func (d *DB) GetUserByUsername(ctx context.Context, username string) (*AdminUser, error) {
	return d.scanUser(d.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// GetUserByEmail fetches an admin account by contact address
func (d *DB) GetUserByEmail(ctx context.Context, email string) (*AdminUser, error) {
	return d.scanUser(d.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

// GetUserByID fetches an admin account by primary key
func (d *DB) GetUserByID(ctx context.Context, id int64) (*AdminUser, error) {
	return d.scanUser(d.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByRememberToken fetches the account bound to a remember-me token.
// Callers pass the token's at-rest hash; the raw cookie value never
// reaches the database.
func (d *DB) GetUserByRememberToken(ctx context.Context, token string) (*AdminUser, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}
	return d.scanUser(d.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE remember_token = ?", token))
}

// UpdatePassword replaces the stored hash
func (d *DB) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ? WHERE id = ?", hash, userID)
	return err
}

// SetRememberToken stores a new remember-me token hash, replacing any
// previous one. Pass the empty string to clear it.
func (d *DB) SetRememberToken(ctx context.Context, userID int64, token string) error {
	var value any
	if token != "" {
		value = token
	}
	_, err := d.db.ExecContext(ctx,
		"UPDATE users SET remember_token = ? WHERE id = ?", value, userID)
	return err
}

// SetResetToken stores a password-reset code with its expiry
func (d *DB) SetResetToken(ctx context.Context, userID int64, token string, expires time.Time) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE users SET reset_token = ?, reset_token_expires = ? WHERE id = ?",
		token, expires.UTC().Format(time.RFC3339), userID)
	return err
}

// GetResetToken returns the stored reset code and its expiry for a user.
// A user with no pending reset reports ErrUserNotFound.
func (d *DB) GetResetToken(ctx context.Context, userID int64) (string, time.Time, error) {
	var token, expires sql.NullString
	err := d.db.QueryRowContext(ctx,
		"SELECT reset_token, reset_token_expires FROM users WHERE id = ?", userID).
		Scan(&token, &expires)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !token.Valid) {
		return "", time.Time{}, ErrUserNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	var deadline time.Time
	if expires.Valid {
		deadline, err = time.Parse(time.RFC3339, expires.String)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("malformed reset expiry: %w", err)
		}
	}
	return token.String, deadline, nil
}

// ClearResetToken discards any pending reset code
func (d *DB) ClearResetToken(ctx context.Context, userID int64) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE users SET reset_token = NULL, reset_token_expires = NULL WHERE id = ?", userID)
	return err
}

// EnsureAdmin creates the initial operator account when the users table is
// empty. Existing accounts are never touched, so a changed bootstrap
// password does not overwrite a rotated one.
func (d *DB) EnsureAdmin(ctx context.Context, username, email, passwordHash string) error {
	var count int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)",
		username, email, passwordHash)
	return err
}
