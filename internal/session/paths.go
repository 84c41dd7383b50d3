package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.nchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nchat")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// ArchivePath returns the message archive path for a session.
func ArchivePath(name string) string {
	return filepath.Join(Dir(name), "nchat.db")
}

// IdentityPath returns the identity key file path for a session.
func IdentityPath(name string) string {
	return filepath.Join(Dir(name), "identity")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "nchatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
