// Package sandbox confines every tool-touched filesystem path under a
// workspace root, clamping escape attempts rather than erroring.
package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolver maps any input path to a canonical path guaranteed to be inside
// Root.
type Resolver struct {
	Root string
}

// Resolve cleans path (absolute, relative, containing "..", or "~") and
// clamps it to Root if it would otherwise escape.
func (r Resolver) Resolve(path string) string {
	root := r.Root
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		rootAbs = root
	}
	rootAbs = filepath.Clean(rootAbs)

	clean := strings.TrimSpace(path)
	if clean == "" {
		return rootAbs
	}
	if clean == "~" || strings.HasPrefix(clean, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			clean = filepath.Join(home, strings.TrimPrefix(clean, "~"))
		} else {
			clean = strings.TrimPrefix(clean, "~")
		}
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}

	rel, err := filepath.Rel(rootAbs, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return rootAbs
	}
	return target
}
