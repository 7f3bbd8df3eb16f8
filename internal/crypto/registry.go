package crypto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const registryKeyBits = 2048

// Registry persists one RSA keypair per identity under a directory as
// <identity>_public.pem / <identity>_private.pem. Private PEMs are written
// owner-read-only.
type Registry struct {
	mu  sync.Mutex
	dir string
}

// NewRegistry creates a Registry rooted at dir. The directory is created on
// first use.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// EnsureKeys returns the PEM keypair for identity, generating and persisting
// a new one on first sight.
func (r *Registry) EnsureKeys(identity string) (pubPEM, privPEM []byte, err error) {
	if identity == "" || strings.ContainsAny(identity, "/\\") {
		return nil, nil, fmt.Errorf("invalid identity %q", identity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pubPath := filepath.Join(r.dir, identity+"_public.pem")
	privPath := filepath.Join(r.dir, identity+"_private.pem")

	pubPEM, pubErr := os.ReadFile(pubPath)
	privPEM, privErr := os.ReadFile(privPath)
	if pubErr == nil && privErr == nil {
		return pubPEM, privPEM, nil
	}

	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create key dir: %w", err)
	}

	pubPEM, privPEM, err = GenerateRSAKeypair(registryKeyBits)
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return nil, nil, fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return nil, nil, fmt.Errorf("write private key: %w", err)
	}
	return pubPEM, privPEM, nil
}
