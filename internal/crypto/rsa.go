// Package crypto provides the byte-level primitives used across GlyphNet:
// RSA hybrid encryption, AES-256-GCM sealing, packet signatures, and the
// persisted per-identity keypair registry.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// GenerateRSAKeypair generates an RSA keypair and returns (public, private)
// PEM blocks. The public key is PKIX-encoded, the private key PKCS#1.
func GenerateRSAKeypair(bits int) (pubPEM, privPEM []byte, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate rsa key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}

	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return pubPEM, privPEM, nil
}

// ParsePublicKey decodes a PEM-encoded RSA public key.
func ParsePublicKey(pubPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want *rsa.PublicKey", key)
	}
	return pub, nil
}

// ParsePrivateKey decodes a PEM-encoded PKCS#1 RSA private key.
func ParsePrivateKey(privPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return priv, nil
}

// RSAEncrypt seals message with RSA-OAEP (SHA-256) under the given public key.
func RSAEncrypt(message, pubPEM []byte) ([]byte, error) {
	pub, err := ParsePublicKey(pubPEM)
	if err != nil {
		return nil, err
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, message, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa encrypt: %w", err)
	}
	return ct, nil
}

// RSADecrypt opens an RSA-OAEP ciphertext with the given private key.
func RSADecrypt(ciphertext, privPEM []byte) ([]byte, error) {
	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		return nil, err
	}
	msg, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return msg, nil
}

// SignMessage signs message with RSASSA-PKCS1v15 over SHA-256 and returns the
// signature base64-encoded for JSON transport.
func SignMessage(message, privPEM []byte) (string, error) {
	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySignature checks a base64 signature produced by SignMessage.
func VerifySignature(message []byte, sigB64 string, pubPEM []byte) bool {
	pub, err := ParsePublicKey(pubPEM)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}
