package security

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKeyFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^bm-[0-9a-f]{28}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := GenerateAPIKey()
		assert.Regexp(t, pattern, key)
		assert.False(t, seen[key], "keys must not repeat")
		seen[key] = true
	}
}

func TestGenerateRememberTokenFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{64}$`)

	a := GenerateRememberToken()
	b := GenerateRememberToken()
	assert.Regexp(t, pattern, a)
	assert.Regexp(t, pattern, b)
	assert.NotEqual(t, a, b)
}

func TestHashRememberToken(t *testing.T) {
	token := GenerateRememberToken()
	hash := HashRememberToken(token)

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), hash)
	assert.NotEqual(t, token, hash)
	assert.Equal(t, hash, HashRememberToken(token), "hash must be deterministic")
	assert.NotEqual(t, hash, HashRememberToken(GenerateRememberToken()))
}

func TestGenerateOTPFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9]{6}$`)

	for i := 0; i < 100; i++ {
		assert.Regexp(t, pattern, GenerateOTP())
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash := HashPassword("correct horse battery 1")

	assert.Contains(t, hash, "$argon2id$v=19$")
	assert.True(t, VerifyPassword("correct horse battery 1", hash))
	assert.False(t, VerifyPassword("wrong password", hash))
	assert.False(t, VerifyPassword("", hash))
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	a := HashPassword("same password 1")
	b := HashPassword("same password 1")

	require.NotEqual(t, a, b, "each hash must carry a fresh salt")
	assert.True(t, VerifyPassword("same password 1", a))
	assert.True(t, VerifyPassword("same password 1", b))
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	assert.False(t, VerifyPassword("anything", ""))
	assert.False(t, VerifyPassword("anything", "not-a-hash"))
	assert.False(t, VerifyPassword("anything", "$argon2id$v=19$m=65536,t=3,p=4$zz$zz"))
}

func TestConstantTimeEquals(t *testing.T) {
	assert.True(t, ConstantTimeEquals("abc", "abc"))
	assert.False(t, ConstantTimeEquals("abc", "abd"))
	assert.False(t, ConstantTimeEquals("abc", "abcd"))
	assert.True(t, ConstantTimeEquals("", ""))
}
