// Package identity persists the host's shareable peer identity: a short
// numeric string generated once and reused on every future host run.
package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
)

// Prefix namespaces identities before they reach the rendezvous relay,
// so signlink hosts cannot collide with unrelated applications sharing
// the same signaling namespace.
const Prefix = "signlink-"

const fileName = "host_identity"

// Store reads and writes the persisted host identity under dir.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. Dir is created lazily on the
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultDir returns the per-user config location for signlink state.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("identity: resolve config dir: %w", err)
	}
	return filepath.Join(base, "signlink"), nil
}

// Load returns the persisted identity, generating and persisting a new
// one on first use. The same value is returned on every later call.
func (s *Store) Load() (string, error) {
	path := filepath.Join(s.dir, fileName)
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if isValid(id) {
			return id, nil
		}
		// Corrupt contents; fall through and regenerate.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("identity: read %s: %w", path, err)
	}

	id, err := generate()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("identity: create %s: %w", s.dir, err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("identity: write %s: %w", path, err)
	}
	return id, nil
}

// Namespaced returns the identity as registered with the relay.
func Namespaced(id string) string {
	return Prefix + id
}

// Stripped removes the namespace prefix from a relay-side identity.
func Stripped(id string) string {
	return strings.TrimPrefix(id, Prefix)
}

func generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("identity: generate: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

func isValid(id string) bool {
	if len(id) != 4 {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
