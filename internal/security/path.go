package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects paths with directory traversal components.
// Operator-supplied paths (config file, database file) go through here
// before they are opened.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	return nil
}
