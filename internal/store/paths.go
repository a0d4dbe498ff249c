package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/tally/internal/config"
)

// ResolveWorkspacePath resolves the configured workspace directory.
// If empty, it falls back to ~/.tally.
func ResolveWorkspacePath(workspacePath string) (string, error) {
	if trimmed := strings.TrimSpace(workspacePath); trimmed != "" {
		return config.ExpandPath(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tally"), nil
}

// EnsureParentDir creates the directory holding path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
