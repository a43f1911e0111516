package staging

import (
	"path/filepath"
	"strings"
)

// Filter decides which paths of the project tree are left out of a staged tree.
type Filter struct {
	// exclusions are slash-separated paths relative to the project root.
	exclusions []string
	// skipped are absolute paths that are never copied (staging root, outputs).
	skipped []string
}

// NewFilter builds a filter from project-relative exclusions and absolute skip paths.
func NewFilter(exclusions []string, skipped ...string) *Filter {
	f := &Filter{
		exclusions: make([]string, 0, len(exclusions)),
		skipped:    make([]string, 0, len(skipped)),
	}

	for _, e := range exclusions {
		f.exclusions = append(f.exclusions, filepath.ToSlash(filepath.Clean(e)))
	}

	for _, s := range skipped {
		if s == "" {
			continue
		}

		if abs, err := filepath.Abs(s); err == nil {
			f.skipped = append(f.skipped, abs)
		}
	}

	return f
}

// Excluded reports whether a project-relative path matches an exclusion,
// either exactly or as a descendant of an excluded directory.
func (f *Filter) Excluded(rel string) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))

	for _, e := range f.exclusions {
		if rel == e || strings.HasPrefix(rel, e+"/") {
			return true
		}
	}

	return false
}

// Skipped reports whether an absolute path is one of the always-skipped outputs.
func (f *Filter) Skipped(abs string) bool {
	abs = filepath.Clean(abs)

	for _, s := range f.skipped {
		if abs == s || strings.HasPrefix(abs, s+string(filepath.Separator)) {
			return true
		}
	}

	return false
}
