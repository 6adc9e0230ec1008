package upload

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mmartingarciia/retroducer/internal/models"
)

const maxFilenameLen = 255

// SanitizeFilename turns a client supplied filename into a single top-level
// storage path. Names carrying separators, parent references, control
// characters or a leading dot are rejected. Remaining characters outside
// [A-Za-z0-9._-] are replaced with '_'.
func SanitizeFilename(name string) (string, error) {
	switch {
	case name == "":
		return "", fmt.Errorf("empty filename: %w", models.ErrInvalidInput)
	case strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("filename %q contains a path separator: %w", name, models.ErrInvalidInput)
	case strings.Contains(name, ".."):
		return "", fmt.Errorf("filename %q contains a parent reference: %w", name, models.ErrInvalidInput)
	case strings.HasPrefix(name, "."):
		return "", fmt.Errorf("filename %q is hidden: %w", name, models.ErrInvalidInput)
	case len(name) > maxFilenameLen:
		return "", fmt.Errorf("filename longer than %d bytes: %w", maxFilenameLen, models.ErrInvalidInput)
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("filename %q contains control characters: %w", name, models.ErrInvalidInput)
		}
		if isSafe(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String(), nil
}

func isSafe(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '.' || r == '_' || r == '-'
}
