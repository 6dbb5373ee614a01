package vfs

import (
	"context"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ValidatePattern normalizes a glob pattern and checks it is well formed. Patterns always use "/"
// between elements regardless of the configured separator.
func ValidatePattern(pattern string) (string, error) {
	pattern = strings.TrimPrefix(NormalizeString(pattern), "/")
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return "", newError(ErrInvalidPath, pattern, doublestar.ErrBadPattern)
	}
	return pattern, nil
}

// Glob returns the paths of all entries matching pattern, in listing order. Use "**" to match
// any number of elements.
func (s *Storage) Glob(ctx context.Context, pattern string) (paths []string, err error) {
	defer s.metrics.observe("glob", time.Now(), &err)
	pattern, err = ValidatePattern(pattern)
	if err != nil {
		return nil, err
	}

	all, err := s.allPaths(ctx)
	if err != nil {
		return nil, err
	}
	paths = []string{}
	for _, p := range all {
		candidate := p
		if s.layout.separator != "/" {
			candidate = strings.Join(s.layout.Elements(p), "/")
		}
		// The pattern was validated so Match cannot fail.
		if ok, _ := doublestar.Match(pattern, candidate); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
