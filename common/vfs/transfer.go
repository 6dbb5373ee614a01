package vfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type transferConfig struct {
	overwrite bool
}

type TransferOpt func(*transferConfig)

// WithReplaceExisting replaces files that already exist at the destination. Directories are always
// merged.
func WithReplaceExisting(replace bool) TransferOpt {
	return func(cfg *transferConfig) {
		cfg.overwrite = replace
	}
}

// ImportTree copies the file or directory tree at src in fsys into the storage below dest (the
// root level if dest is empty). Missing destination directories are created. It returns the number
// of entries written. Importing stops at the first error, entries imported up to that point are
// kept.
func (s *Storage) ImportTree(ctx context.Context, fsys afero.Fs, src string, dest string, opts ...TransferOpt) (count int, err error) {
	defer s.metrics.observe("import", time.Now(), &err)
	cfg := &transferConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	destElements := s.layout.Elements(dest)
	if len(destElements) > 0 {
		if _, err := s.MkDir(ctx, s.layout.Join(destElements), WithParents(true)); err != nil {
			return 0, err
		}
	}
	src = filepath.Clean(src)

	err = afero.Walk(fsys, src, func(localPath string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, localPath)
		if err != nil {
			return err
		}
		elements := slices.Clone(destElements)
		if rel == "." {
			// The root of the tree keeps its own name unless it is a directory being merged into dest.
			if info.IsDir() {
				return nil
			}
			rel = info.Name()
		}
		for _, e := range strings.Split(filepath.ToSlash(rel), "/") {
			if e != "" {
				elements = append(elements, e)
			}
		}
		target := s.layout.Join(elements)

		switch {
		case info.IsDir():
			entry := NewDirectory(target)
			entry.LastModified = info.ModTime()
			_, err = s.addEntry(ctx, entry, false)
			if errors.Is(err, ErrFileWithSamePath) {
				err = nil
			}
		case info.Mode().IsRegular():
			var data []byte
			data, err = afero.ReadFile(fsys, localPath)
			if err != nil {
				return fmt.Errorf("unable to read %s: %w", localPath, err)
			}
			entry := NewFile(target, data, "")
			entry.LastModified = info.ModTime()
			_, err = s.addEntry(ctx, entry, cfg.overwrite)
		default:
			s.log.Debug("skipping entry that is neither a file nor a directory", zap.String("path", localPath))
			return nil
		}
		if err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, classify(src, err)
	}
	s.log.Debug("imported tree", zap.String("source", src), zap.String("destination", dest), zap.Int("entries", count))
	return count, nil
}

// ExportTree writes the entry at src and everything below it into the directory dest in fsys. An
// empty src exports the whole storage. Existing local files are only replaced WithReplaceExisting.
// It returns the number of entries written.
func (s *Storage) ExportTree(ctx context.Context, fsys afero.Fs, src string, dest string, opts ...TransferOpt) (count int, err error) {
	defer s.metrics.observe("export", time.Now(), &err)
	cfg := &transferConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	srcElements := s.layout.Elements(src)
	docs, err := s.subtree(ctx, srcElements)
	if err != nil {
		return 0, newError(ErrStorage, s.layout.Join(srcElements), err)
	}
	if len(docs) == 0 && len(srcElements) > 0 {
		return 0, newError(ErrFileNotFound, s.layout.Join(srcElements), nil)
	}

	if err := fsys.MkdirAll(dest, 0o755); err != nil {
		return 0, newError(ErrStorage, dest, err)
	}
	// Entries are exported relative to the parent of src so the exported tree keeps its name.
	strip := 0
	if len(srcElements) > 0 {
		strip = len(srcElements) - 1
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return count, newError(ErrStorage, src, err)
		}
		elements := doc.Value.PathElements
		localPath := filepath.Join(append([]string{dest}, elements[strip:]...)...)

		if doc.Value.IsDirectory {
			if err := fsys.MkdirAll(localPath, 0o755); err != nil {
				return count, newError(ErrStorage, localPath, err)
			}
			count++
			continue
		}

		if !cfg.overwrite {
			if _, err := fsys.Stat(localPath); err == nil {
				return count, newError(ErrFileWithSamePath, localPath, nil)
			} else if !errors.Is(err, os.ErrNotExist) {
				return count, newError(ErrStorage, localPath, err)
			}
		}
		entry, err := s.GetFile(ctx, s.layout.Join(elements))
		if err != nil {
			return count, err
		}
		if err := fsys.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return count, newError(ErrStorage, localPath, err)
		}
		if err := afero.WriteFile(fsys, localPath, entry.Payload, 0o644); err != nil {
			return count, newError(ErrStorage, localPath, err)
		}
		if err := fsys.Chtimes(localPath, entry.LastModified, entry.LastModified); err != nil {
			s.log.Debug("unable to set modification time", zap.String("path", localPath), zap.Error(err))
		}
		count++
	}
	s.log.Debug("exported tree", zap.String("source", src), zap.String("destination", dest), zap.Int("entries", count))
	return count, nil
}
