package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAdminSeedsOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureAdmin(ctx, "admin", "admin@example.com", "hash-one"))

	user, err := db.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", user.Email)
	assert.Equal(t, "hash-one", user.PasswordHash)

	// A second call with different credentials must not overwrite
	require.NoError(t, db.EnsureAdmin(ctx, "other", "other@example.com", "hash-two"))
	_, err = db.GetUserByUsername(ctx, "other")
	assert.ErrorIs(t, err, ErrUserNotFound)

	user, err = db.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "hash-one", user.PasswordHash)
}

func TestUserLookups(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureAdmin(ctx, "admin", "admin@example.com", "hash"))
	user, err := db.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	byEmail, err := db.GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byID, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", byID.Username)

	_, err = db.GetUserByEmail(ctx, "unknown@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdatePassword(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureAdmin(ctx, "admin", "admin@example.com", "old-hash"))
	user, err := db.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	require.NoError(t, db.UpdatePassword(ctx, user.ID, "new-hash"))

	user, err = db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", user.PasswordHash)
}

func TestRememberTokenLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureAdmin(ctx, "admin", "admin@example.com", "hash"))
	user, err := db.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	// No token stored yet
	_, err = db.GetUserByRememberToken(ctx, "sometoken")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = db.GetUserByRememberToken(ctx, "")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, db.SetRememberToken(ctx, user.ID, "token-a"))
	found, err := db.GetUserByRememberToken(ctx, "token-a")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	// Rotation replaces the stored token
	require.NoError(t, db.SetRememberToken(ctx, user.ID, "token-b"))
	_, err = db.GetUserByRememberToken(ctx, "token-a")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = db.GetUserByRememberToken(ctx, "token-b")
	assert.NoError(t, err)

	// Clearing removes it entirely
	require.NoError(t, db.SetRememberToken(ctx, user.ID, ""))
	_, err = db.GetUserByRememberToken(ctx, "token-b")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestResetTokenLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureAdmin(ctx, "admin", "admin@example.com", "hash"))
	user, err := db.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	// No pending reset
	_, _, err = db.GetResetToken(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	expires := time.Date(2025, 6, 15, 12, 10, 0, 0, time.UTC)
	require.NoError(t, db.SetResetToken(ctx, user.ID, "123456", expires))

	code, deadline, err := db.GetResetToken(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "123456", code)
	assert.True(t, deadline.Equal(expires))

	require.NoError(t, db.ClearResetToken(ctx, user.ID))
	_, _, err = db.GetResetToken(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
