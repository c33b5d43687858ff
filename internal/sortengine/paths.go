package sortengine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path is outside the root directory")

// ResolveWithin joins name onto root and returns the absolute result, refusing anything
// that escapes root after cleaning.
func ResolveWithin(root, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("empty path")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("cannot get absolute path for %s: %w", root, err)
	}
	target := name
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(absRoot, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return target, nil
}
