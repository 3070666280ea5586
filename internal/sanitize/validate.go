package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Validation errors.
var (
	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrInvalidFeature indicates a feature name cannot be used as a directory.
	ErrInvalidFeature = errors.New("invalid feature name")
)

var featurePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateFeature checks that name is usable as specs/<name>.
func ValidateFeature(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFeature)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: contains path characters", ErrInvalidFeature)
	}
	if len(name) > MaxFeatureLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidFeature, MaxFeatureLength)
	}
	if !featurePattern.MatchString(name) {
		return fmt.Errorf("%w: must be letters, digits, '.', '_' or '-'", ErrInvalidFeature)
	}
	return nil
}

// ValidatePath cleans path and returns it absolute. When allowedRoot is set,
// the result must lie within it.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(filepath.ToSlash(path), "../") || strings.HasSuffix(path, "..") {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if allowedRoot == "" {
		return abs, nil
	}

	root, err := filepath.Abs(allowedRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve allowed root: %w", err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes %s", ErrPathTraversal, root)
	}
	return abs, nil
}
