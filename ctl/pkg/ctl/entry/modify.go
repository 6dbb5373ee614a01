package entry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/thinkparq/docfs/common/vfs"
	"github.com/thinkparq/docfs/ctl/pkg/config"
	"github.com/thinkparq/docfs/ctl/pkg/util"
	"go.uber.org/zap"
)

// PutFileCfg describes a file to add to the storage.
type PutFileCfg struct {
	Path string
	// Source provides the file content. May be nil to create an empty file.
	Source   io.Reader
	MimeType string
	Label    string
	// Replace an existing file at Path.
	Overwrite bool
	// Create missing parent directories.
	Parents bool
}

// PutFile adds a file and returns its normalized path.
func PutFile(ctx context.Context, cfg PutFileCfg) (string, error) {
	log, _ := config.GetLogger()
	storage, err := config.Storage(ctx)
	if err != nil {
		return "", err
	}

	var payload []byte
	if cfg.Source != nil {
		if payload, err = io.ReadAll(cfg.Source); err != nil {
			return "", fmt.Errorf("unable to read the content for %s: %w", cfg.Path, err)
		}
	}

	if cfg.Parents {
		elements := storage.Layout().Elements(cfg.Path)
		if parent, ok := vfs.ParentElements(elements); ok {
			if _, err := storage.MkDir(ctx, storage.Layout().Join(parent), vfs.WithParents(true)); err != nil {
				return "", err
			}
		}
	}

	file := vfs.NewFile(cfg.Path, payload, cfg.MimeType)
	file.Label = cfg.Label
	p, err := storage.AddFile(ctx, file, vfs.WithOverwrite(cfg.Overwrite))
	if err != nil {
		return "", err
	}
	log.Debug("added file", zap.String("path", p), zap.Int("size", len(payload)), zap.Bool("overwrite", cfg.Overwrite))
	return p, nil
}

// GetFile returns the file at path including its content.
func GetFile(ctx context.Context, path string) (*vfs.Entry, error) {
	storage, err := config.Storage(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := storage.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if entry.IsDirectory {
		return nil, fmt.Errorf("%s is a directory", entry.Path)
	}
	return entry, nil
}

// Result is returned for each path a command acted on. Failures specific to a single path are
// returned in Err so the remaining paths are still processed.
type Result struct {
	Path string
	// Whether the entry was created or removed. False if there was nothing to do.
	Changed bool
	Err     error
}

// MakeDirs creates each directory in paths, optionally including missing parents.
func MakeDirs(ctx context.Context, paths []string, parents bool) ([]Result, error) {
	storage, err := config.Storage(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		if parents {
			// Like mkdir -p, an existing directory is fine but an existing file is not.
			if e, err := storage.Stat(ctx, p); err == nil {
				if !e.IsDirectory {
					err = fmt.Errorf("%s: %w", e.Path, vfs.ErrFileWithSamePath)
				}
				results = append(results, Result{Path: e.Path, Err: err})
				continue
			}
		}
		normalized, err := storage.MkDir(ctx, p, vfs.WithParents(parents))
		if err != nil {
			results = append(results, Result{Path: p, Err: err})
			continue
		}
		results = append(results, Result{Path: normalized, Changed: true})
	}
	return results, nil
}

// RemoveDirs removes each directory in paths. Directories that are not empty are only removed
// when recursive is set.
func RemoveDirs(ctx context.Context, paths []string, recursive bool) ([]Result, error) {
	storage, err := config.Storage(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		removed, err := storage.RmDir(ctx, p, vfs.WithRecursive(recursive))
		if err == nil && !removed {
			err = explainRmDir(ctx, storage, p)
		}
		results = append(results, Result{Path: p, Changed: removed, Err: err})
	}
	return results, nil
}

// explainRmDir figures out why RmDir did not remove a path so users get a useful message.
func explainRmDir(ctx context.Context, storage *vfs.Storage, path string) error {
	e, err := storage.Stat(ctx, path)
	if err != nil {
		return err
	}
	if !e.IsDirectory {
		return fmt.Errorf("%s: not a directory", e.Path)
	}
	return fmt.Errorf("%s: directory not empty", e.Path)
}

type RemoveCfg struct {
	FilterExpr string
}

// RemoveEntries removes the entries provided by method. Files are deleted, directories are removed
// if they are empty. When recursing, entries are processed depth first so a directory is empty
// by the time it is reached unless the filter kept some of its children.
func RemoveEntries(ctx context.Context, method util.PathInputMethod, cfg RemoveCfg) (<-chan Result, <-chan error, error) {
	storage, err := config.Storage(ctx)
	if err != nil {
		return nil, nil, err
	}
	recurse := method.Get() == util.PathInputRecursion
	return util.ProcessPaths(ctx, method, recurse, func(path string) (Result, error) {
		e, err := storage.Stat(ctx, path)
		if err != nil {
			if errors.Is(err, vfs.ErrStorage) {
				return Result{}, err
			}
			return Result{Path: path, Err: err}, nil
		}
		var removed bool
		if e.IsDirectory {
			if !recurse {
				return Result{Path: e.Path, Err: fmt.Errorf("%s: is a directory", e.Path)}, nil
			}
			removed, err = storage.RmDir(ctx, e.Path)
		} else {
			removed, err = storage.Delete(ctx, e.Path)
		}
		if err != nil {
			return Result{}, err
		}
		return Result{Path: e.Path, Changed: removed}, nil
	}, util.DepthFirst(recurse), util.FilterExpr(cfg.FilterExpr))
}
