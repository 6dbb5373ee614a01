package vfs

import (
	"context"
	"fmt"

	"github.com/thinkparq/docfs/common/kvstore"
)

// ensureParentExists checks that the parent of elements is a live directory. Root level entries
// always pass. If strict is set a missing parent is reported as ErrInvalidPath, otherwise false is
// returned. The check is a separate read, so a parent removed right after it passed is not
// detected.
func (s *Storage) ensureParentExists(ctx context.Context, elements []string, strict bool) (bool, error) {
	parent, ok := ParentElements(elements)
	if !ok {
		return true, nil
	}
	parentPath := s.layout.Join(parent)

	rows, err := s.backend.Query(ctx, PathIndex, kvstore.WithKey(parent...))
	if err != nil {
		return false, newError(ErrStorage, parentPath, err)
	}
	var parentDoc *Document
	for _, row := range rows {
		if row.Doc != nil && s.inNamespace(row.ID) {
			parentDoc = row.Doc
			break
		}
	}

	switch {
	case parentDoc == nil:
		if strict {
			return false, newError(ErrInvalidPath, parentPath, fmt.Errorf("parent directory does not exist"))
		}
		return false, nil
	case !parentDoc.Value.IsDirectory:
		if strict {
			return false, newError(ErrInvalidPath, parentPath, fmt.Errorf("parent is not a directory"))
		}
		return false, nil
	}
	return true, nil
}

// children returns the documents that are immediate children of elements (root level entries if
// elements is empty), ordered by path.
func (s *Storage) children(ctx context.Context, elements []string, payloads bool) ([]*Document, error) {
	opts := []kvstore.QueryOpt{kvstore.WithIncludeAttachments(payloads)}
	if len(elements) > 0 {
		opts = append(opts, kvstore.WithKeyPrefix(elements...))
	}
	rows, err := s.backend.Query(ctx, PathIndex, opts...)
	if err != nil {
		return nil, err
	}

	depth := 0
	if len(elements) > 0 {
		depth = s.layout.Depth(s.layout.Join(elements)) + 1
	}
	docs := []*Document{}
	for _, row := range rows {
		if row.Doc == nil || !s.inNamespace(row.ID) {
			continue
		}
		if s.layout.Depth(s.layout.Join(row.Key)) != depth {
			continue
		}
		docs = append(docs, row.Doc)
	}
	return docs, nil
}

// subtree returns the document at elements followed by all of its descendants, ordered by path.
// Empty elements return every entry.
func (s *Storage) subtree(ctx context.Context, elements []string) ([]*Document, error) {
	var rows []*kvstore.Row[Fields]
	if len(elements) > 0 {
		self, err := s.backend.Query(ctx, PathIndex, kvstore.WithKey(elements...))
		if err != nil {
			return nil, err
		}
		rows = self
	}
	opts := []kvstore.QueryOpt{}
	if len(elements) > 0 {
		opts = append(opts, kvstore.WithKeyPrefix(elements...))
	}
	descendants, err := s.backend.Query(ctx, PathIndex, opts...)
	if err != nil {
		return nil, err
	}

	docs := []*Document{}
	for _, row := range append(rows, descendants...) {
		if row.Doc != nil && s.inNamespace(row.ID) {
			docs = append(docs, row.Doc)
		}
	}
	return docs, nil
}
