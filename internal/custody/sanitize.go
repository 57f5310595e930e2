package custody

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename reduces a client-supplied filename to the safe character
// set used as the sole on-disk and lookup-key identifier. It must be applied
// identically everywhere a filename enters the system, including before any
// document-store key derivation, or the ownership checks can be bypassed by
// names that sanitize to another owner's existing name.
func SanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: filename is required", ErrInvalidFilename)
	}

	// Keep only the base name component so no path separators survive.
	// Backslashes are normalized first so Windows-style traversal is
	// stripped the same way on every platform.
	candidate := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if candidate == "." || candidate == ".." || candidate == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}

	safe := unsafeChars.ReplaceAllString(candidate, "_")
	if safe == "" || strings.Trim(safe, ".") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return safe, nil
}
