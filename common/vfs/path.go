// Package vfs implements a hierarchical file storage (files and directories addressed by separated
// paths) on top of a revisioned document store. Every entry is a single document keyed by its
// canonical path, so uniqueness, overwrite detection and deletion all rely on the store's per
// document revisions. Operations spanning several documents (recursive removal, parent checks) are
// not atomic and report races as errors instead of retrying.
package vfs

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	DefaultSeparator = "/"
	// DefaultIDPrefix keeps entry documents apart from anything else stored in the same database.
	DefaultIDPrefix = "file_"
	// PayloadAttachment is the name of the attachment holding a file's content.
	PayloadAttachment = "self"
	// IDDelimiter ends the ID prefix in every document ID. Prefixes cannot contain it, so no two
	// layouts share a document ID even when one prefix starts with the other.
	IDDelimiter = ":"
)

// Layout maps between user supplied paths, canonical path elements and document IDs. It is
// immutable so several Storage instances with different namespaces can share a backend.
type Layout struct {
	separator string
	idPrefix  string
}

// NewLayout returns a layout using the given path separator and document ID prefix. The separator
// must be a single non-space character.
func NewLayout(separator string, idPrefix string) (Layout, error) {
	if !utf8.ValidString(separator) || utf8.RuneCountInString(separator) != 1 || strings.TrimFunc(separator, unicode.IsSpace) == "" {
		return Layout{}, fmt.Errorf("the path separator must be a single non-space character, got %q", separator)
	}
	if strings.Contains(idPrefix, IDDelimiter) {
		return Layout{}, fmt.Errorf("the document ID prefix %q must not contain %q", idPrefix, IDDelimiter)
	}
	if strings.Contains(idPrefix, separator) {
		return Layout{}, fmt.Errorf("the document ID prefix %q must not contain the path separator", idPrefix)
	}
	if strings.IndexByte(idPrefix, 0) != -1 {
		return Layout{}, fmt.Errorf("the document ID prefix must not contain NUL bytes")
	}
	return Layout{separator: separator, idPrefix: idPrefix}, nil
}

func DefaultLayout() Layout {
	return Layout{separator: DefaultSeparator, idPrefix: DefaultIDPrefix}
}

func (l Layout) Separator() string {
	return l.separator
}

func (l Layout) IDPrefix() string {
	return l.idPrefix
}

// NormalizeString trims surrounding whitespace and applies Unicode NFD normalization, so visually
// identical names always map to the same document.
func NormalizeString(s string) string {
	return norm.NFD.String(strings.TrimSpace(s))
}

// NormalizePath normalizes s and strips one leading separator.
func (l Layout) NormalizePath(s string) string {
	return strings.TrimPrefix(NormalizeString(s), l.separator)
}

// Elements splits a path into its non-empty elements. An empty result means the path is invalid.
func (l Layout) Elements(path string) []string {
	var elements []string
	for _, e := range strings.Split(l.NormalizePath(path), l.separator) {
		if e != "" {
			elements = append(elements, e)
		}
	}
	return elements
}

// Join is the inverse of Elements for canonical paths.
func (l Layout) Join(elements []string) string {
	return strings.Join(elements, l.separator)
}

// ParentElements returns all but the last element. Root level entries have no parent.
func ParentElements(elements []string) ([]string, bool) {
	if len(elements) <= 1 {
		return nil, false
	}
	return elements[:len(elements)-1], true
}

// DocumentID returns the ID of the document stored at elements: the prefix, IDDelimiter and the
// canonical path.
func (l Layout) DocumentID(elements []string) string {
	return l.namespace() + l.Join(elements)
}

// namespace is the start shared by every document ID of this layout and no other layout.
func (l Layout) namespace() string {
	return l.idPrefix + IDDelimiter
}

// Depth returns the number of separators in a canonical path. Root level entries have depth zero.
func (l Layout) Depth(path string) int {
	return strings.Count(path, l.separator)
}
