package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandPath resolves environment variables and "~/" home shortcuts.
// Empty input yields an empty path.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded != "~" && !strings.HasPrefix(expanded, "~/") {
		return filepath.Clean(expanded), nil
	}

	home, err := homeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(expanded, "~"), "/")), nil
}

func homeDir() (string, error) {
	candidates := make([]string, 0, 3)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home)
	}
	if current, err := user.Current(); err == nil {
		candidates = append(candidates, current.HomeDir)
	}
	candidates = append(candidates, os.Getenv("HOME"))

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" && c != "~" && !strings.HasPrefix(c, "~/") {
			return c, nil
		}
	}
	return "", fmt.Errorf("HOME is not set")
}
