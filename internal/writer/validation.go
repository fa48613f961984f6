package writer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Session directory names are session_YYYY-MM-DDTHH-MM-SS
var sessionNameRegex = regexp.MustCompile(`^session_\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}$`)

// ResolveSessionDir maps a user-supplied session name onto its directory under
// outputDir. Names that traverse, are absolute, contain separators, do not
// follow the session naming scheme or resolve outside outputDir are rejected.
func ResolveSessionDir(outputDir, sessionName string) (string, error) {
	switch {
	case sessionName == "":
		return "", fmt.Errorf("session name cannot be empty")
	case strings.Contains(sessionName, ".."):
		return "", fmt.Errorf("invalid session name %q: path traversal", sessionName)
	case strings.ContainsAny(sessionName, `/\`):
		return "", fmt.Errorf("invalid session name %q: must be a directory name without path separators", sessionName)
	case filepath.IsAbs(sessionName):
		return "", fmt.Errorf("invalid session name %q: must be relative", sessionName)
	case !sessionNameRegex.MatchString(sessionName):
		return "", fmt.Errorf("invalid session name format: expected 'session_YYYY-MM-DDTHH-MM-SS', got %q", sessionName)
	}

	if outputDir == "" {
		outputDir = "output"
	}
	root, err := filepath.Abs(outputDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}
	dir := filepath.Join(root, sessionName)

	// Separator suffix prevents "/var/out" matching "/var/out-other"
	if !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		return "", fmt.Errorf("session path escapes output directory")
	}
	return dir, nil
}

// ValidateSessionPath reports whether sessionName is safe to join to outputDir
func ValidateSessionPath(outputDir, sessionName string) error {
	_, err := ResolveSessionDir(outputDir, sessionName)
	return err
}
