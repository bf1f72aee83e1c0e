package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/media-ingest/internal/auth"
	"github.com/fpang/media-ingest/internal/store"
)

// ResolveDBPath returns the absolute path of a SQLite database file and makes
// sure its directory exists. ":memory:" is returned unchanged.
func ResolveDBPath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve database path: %w", err)
	}
	dir := filepath.Dir(abs)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("access database directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return abs, nil
}

// Hint returns an actionable message for errors a CLI user can fix, or "".
func Hint(err error) string {
	switch {
	case errors.Is(err, auth.ErrNoCredential):
		return "No stored Instagram credential. Pass --auth-code from the OAuth redirect or --token with a long-lived token."
	case errors.Is(err, store.ErrRunInProgress):
		return "Another ingestion run holds the lease for this user. Try again later."
	}
	return ""
}
