package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/argon2"
)

// apiKeyPrefix marks keys issued by this system
const apiKeyPrefix = "bm-"

// GenerateAPIKey returns a new API key: the issuer prefix followed by 28
// hex characters from a cryptographically strong random source. Keys are
// never derivable from the record they are bound to.
func GenerateAPIKey() string {
	b := make([]byte, 15)
	if _, err := rand.Read(b); err != nil {
		panic("security: crypto/rand unavailable: " + err.Error())
	}
	return apiKeyPrefix + hex.EncodeToString(b)[:28]
}

// GenerateRememberToken returns a 64-character hex token for the
// remember-me cookie.
func GenerateRememberToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("security: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// HashRememberToken derives the at-rest form of a remember-me token. Only
// the hash is persisted, so a leaked user row cannot be replayed as a
// cookie.
func HashRememberToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateOTP returns a 6-digit one-time code from a cryptographically
// strong random source.
func GenerateOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic("security: crypto/rand unavailable: " + err.Error())
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// ConstantTimeEquals compares two secrets without leaking their difference
// through timing.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// argon2id parameters (RFC 9106 second recommended option)
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword derives an argon2id hash of the password, encoded with its
// salt and parameters in the standard modular crypt format.
func HashPassword(password string) string {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		panic("security: crypto/rand unavailable: " + err.Error())
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%x$%x",
		argonMemory, argonTime, argonThreads, salt, key)
}

// VerifyPassword reports whether the password matches the encoded hash.
func VerifyPassword(password, encoded string) bool {
	var memory uint32
	var time uint32
	var threads uint8
	var saltHex, keyHex string

	n, err := fmt.Sscanf(encoded, "$argon2id$v=19$m=%d,t=%d,p=%d$%s",
		&memory, &time, &threads, &saltHex)
	if err != nil || n != 4 {
		return false
	}
	// saltHex still holds "salt$key"; split it
	for i := 0; i < len(saltHex); i++ {
		if saltHex[i] == '$' {
			keyHex = saltHex[i+1:]
			saltHex = saltHex[:i]
			break
		}
	}
	if keyHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(keyHex)
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
