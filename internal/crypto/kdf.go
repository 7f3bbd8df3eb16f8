package crypto

import (
	"crypto/hmac"
	"crypto/rand"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	saltLen      = 32
)

// DeriveKey stretches a secret into a 32-byte key with argon2id.
func DeriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, AESKeyLen)
}

// GenerateSalt returns 32 random bytes.
func GenerateSalt() []byte {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return salt
}

// HashToken hashes an agent token for at-rest storage. The result embeds the
// salt: salt(32) || argon2id(token, salt)(32).
func HashToken(token string) []byte {
	salt := GenerateSalt()
	hash := DeriveKey(token, salt)
	result := make([]byte, saltLen+AESKeyLen)
	copy(result[:saltLen], salt)
	copy(result[saltLen:], hash)
	return result
}

// VerifyToken checks a presented token against a stored HashToken result.
func VerifyToken(token string, stored []byte) bool {
	if len(stored) < saltLen+AESKeyLen {
		return false
	}
	salt := stored[:saltLen]
	hash := stored[saltLen:]
	computed := DeriveKey(token, salt)
	return hmac.Equal(hash, computed)
}
