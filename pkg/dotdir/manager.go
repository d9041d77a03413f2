// Package dotdir manages the .chatty/ and ~/.chatty directories.
//
// The directory holds config.toml and the local state database that backs the
// sqlite vector store and the persisted proactive idle state.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the chatty directory.
	dirName = ".chatty"

	// stateDBFile is the default SQLite database file inside the directory.
	stateDBFile = "chatty.sqlite"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the absolute path to a .chatty/ directory.
// Order of precedence is as follows:
//  1. Provided override (created if missing)
//  2. Local ./.chatty/ dir
//  3. Home ~/.chatty/ dir
//
// If none is found, Target returns an empty string and no error.
func (m *Manager) Target(overrideDir string) (string, error) {
	if overrideDir != "" {
		if err := os.MkdirAll(overrideDir, 0o755); err != nil {
			return "", fmt.Errorf("creating chatty directory %s: %w", overrideDir, err)
		}
		return filepath.Abs(overrideDir)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	if local := filepath.Join(cwd, dirName); isDir(local) {
		return local, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	if homeDir := filepath.Join(home, dirName); isDir(homeDir) {
		return homeDir, nil
	}

	return "", nil
}

// Ensure behaves like Target but creates ~/.chatty/ when no directory could
// be resolved. Long-running commands use it so state always has a home.
func (m *Manager) Ensure(overrideDir string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	if dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	dir = filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating chatty directory %s: %w", dir, err)
	}

	return dir, nil
}

// StateDBPath returns the path of the default state database, creating the
// containing directory if needed.
func (m *Manager) StateDBPath(overrideDir string) (string, error) {
	dir, err := m.Ensure(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, stateDBFile), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
