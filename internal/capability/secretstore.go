package capability

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// SecretStore is the `get_secret(name)` capability contract.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// StubSecretStore is selected when no secret-store credential is
// configured; every lookup fails fast rather than panicking deep
// inside a capability that assumed a secret was present.
type StubSecretStore struct{}

func (StubSecretStore) GetSecret(ctx context.Context, name string) (string, error) {
	return "", fmt.Errorf("secret store: no credentials configured")
}

// DerivedSecretStore answers get_secret by deriving a per-name secret
// from a single master secret via HKDF-SHA256, rather than holding a
// distinct value per name. This keeps the demo/offline configuration
// path free of a dependency on an external secret manager while still
// producing secrets with real key-separation properties: compromising
// one derived value does not reveal the master secret or any sibling.
type DerivedSecretStore struct {
	mu     sync.Mutex
	master []byte
}

// NewDerivedSecretStore constructs a store deriving secrets from
// master. master should come from the process environment, never a
// literal in source.
func NewDerivedSecretStore(master []byte) *DerivedSecretStore {
	return &DerivedSecretStore{master: master}
}

func (s *DerivedSecretStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	master := s.master
	s.mu.Unlock()
	if len(master) == 0 {
		return "", fmt.Errorf("secret store: no master secret configured")
	}

	reader := hkdf.New(sha256.New, master, nil, []byte("lattice-secret|"+name))
	out := make([]byte, 32)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", fmt.Errorf("derive secret %q: %w", name, err)
	}
	return fmt.Sprintf("%x", out), nil
}

var _ SecretStore = (*DerivedSecretStore)(nil)
var _ SecretStore = StubSecretStore{}
