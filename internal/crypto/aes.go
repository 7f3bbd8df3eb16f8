package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// AESNonceLen is the GCM nonce length in bytes.
	AESNonceLen = 12
	// AESTagLen is the GCM authentication tag length in bytes.
	AESTagLen = 16
	// AESKeyLen is the AES-256 key length in bytes.
	AESKeyLen = 32
)

// ErrDecrypt is returned when an authenticated decryption fails. Callers must
// not distinguish between a bad tag and a bad key.
var ErrDecrypt = errors.New("decrypt: authentication failed")

// AESEncrypt seals plaintext with AES-256-GCM under the given 32-byte key.
// The tag is returned separately from the ciphertext so the three parts can
// travel as independent wire fields.
func AESEncrypt(plaintext, key []byte) (nonce, tag, ciphertext []byte, err error) {
	if len(key) != AESKeyLen {
		return nil, nil, nil, fmt.Errorf("aes key must be %d bytes, got %d", AESKeyLen, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new gcm: %w", err)
	}

	nonce = make([]byte, AESNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - AESTagLen
	return nonce, sealed[split:], sealed[:split], nil
}

// AESDecrypt opens an AES-256-GCM payload produced by AESEncrypt and verifies
// its tag. Any authentication failure yields ErrDecrypt.
func AESDecrypt(nonce, tag, ciphertext, key []byte) ([]byte, error) {
	if len(key) != AESKeyLen {
		return nil, fmt.Errorf("aes key must be %d bytes, got %d", AESKeyLen, len(key))
	}
	if len(nonce) != AESNonceLen {
		return nil, fmt.Errorf("aes nonce must be %d bytes, got %d", AESNonceLen, len(nonce))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// GenerateAESKey returns a fresh random 32-byte key.
func GenerateAESKey() ([]byte, error) {
	key := make([]byte, AESKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}
