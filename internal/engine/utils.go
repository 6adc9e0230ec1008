package engine

import (
	"os"
	"path/filepath"
	"strings"
)

// Maps an absolute path under root to the flat name used by the storage
// provider. Paths outside root, the root itself and nested paths are
// rejected.
func relativeToRoot(root, absPath string) (string, bool) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(absPath))
	if err != nil || rel == "." {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	if strings.ContainsRune(rel, os.PathSeparator) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
