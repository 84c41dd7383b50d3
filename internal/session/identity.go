package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotAuthenticated means the session has no identity key on disk yet.
var ErrNotAuthenticated = errors.New("session has no identity; run login first")

// LoadIdentity reads the session's public identity from its identity file.
// The file holds a single npub line written at login.
func LoadIdentity(name string) (string, error) {
	data, err := os.ReadFile(IdentityPath(name))
	if os.IsNotExist(err) {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}
	identity := strings.TrimSpace(string(data))
	if identity == "" {
		return "", ErrNotAuthenticated
	}
	return identity, nil
}

// SaveIdentity writes the session's public identity, creating the session
// directory tree if needed.
func SaveIdentity(name, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("empty identity")
	}
	if err := EnsureDir(name); err != nil {
		return err
	}
	return os.WriteFile(IdentityPath(name), []byte(identity+"\n"), 0600)
}
