// Package entry implements the backend for commands that inspect and modify entries in the file
// storage. Frontends determine how paths are provided (list, recursion or stdin) and these functions
// handle fetching or updating the entries.
package entry

import (
	"context"
	"errors"

	"github.com/thinkparq/docfs/common/vfs"
	"github.com/thinkparq/docfs/ctl/pkg/config"
	"github.com/thinkparq/docfs/ctl/pkg/util"
	"go.uber.org/zap"
)

type GetEntriesCfg struct {
	// Optional expression entries must match, see util.CompileFilter.
	FilterExpr string
}

// GetEntries returns the entry at each path provided by method, without payloads.
//
// If anything goes wrong during the initial setup an error will be returned, otherwise GetEntries
// will immediately return channels where results and errors are written asynchronously. The
// entriesChan will be closed once all requested entries are returned or after an error. Entries are
// returned in path order when recursing, otherwise the order is not stable.
func GetEntries(ctx context.Context, method util.PathInputMethod, cfg GetEntriesCfg) (<-chan *vfs.Entry, <-chan error, error) {
	storage, err := config.Storage(ctx)
	if err != nil {
		return nil, nil, err
	}
	singleWorker := method.Get() == util.PathInputRecursion
	return util.ProcessPaths(ctx, method, singleWorker, func(path string) (*vfs.Entry, error) {
		return storage.Stat(ctx, path)
	}, util.FilterExpr(cfg.FilterExpr))
}

type ListCfg struct {
	Path string
	// List all descendants instead of only the immediate children.
	Recurse    bool
	FilterExpr string
}

// ListEntries lists the children of a directory ordered by path. An empty path lists the root.
// Listing a file returns just that file, listing a path that does not exist returns an empty list.
func ListEntries(ctx context.Context, cfg ListCfg) ([]*vfs.Entry, error) {
	log, _ := config.GetLogger()
	storage, err := config.Storage(ctx)
	if err != nil {
		return nil, err
	}

	var filter func(util.EntryInfo) (bool, error)
	if cfg.FilterExpr != "" {
		if filter, err = util.CompileFilter(cfg.FilterExpr); err != nil {
			return nil, err
		}
	}

	var entries []*vfs.Entry
	if cfg.Recurse {
		entries, err = storage.ListTree(ctx, cfg.Path)
		if errors.Is(err, vfs.ErrFileNotFound) {
			return []*vfs.Entry{}, nil
		} else if err != nil {
			return nil, err
		}
		// The tree starts with the directory itself.
		if len(entries) > 0 && len(storage.Layout().Elements(cfg.Path)) > 0 && entries[0].IsDirectory {
			entries = entries[1:]
		}
	} else {
		entries, err = storage.ListAllFilesOnAPath(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 && len(storage.Layout().Elements(cfg.Path)) > 0 {
			if self, err := storage.Stat(ctx, cfg.Path); err == nil && !self.IsDirectory {
				entries = []*vfs.Entry{self}
			}
		}
	}
	log.Debug("listed entries", zap.String("path", cfg.Path), zap.Bool("recurse", cfg.Recurse), zap.Int("count", len(entries)))

	if filter == nil {
		return entries, nil
	}
	filtered := make([]*vfs.Entry, 0, len(entries))
	for _, e := range entries {
		keep, err := filter(util.NewEntryInfo(e, storage.Layout()))
		if err != nil {
			return nil, err
		}
		if keep {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

type FindCfg struct {
	Pattern    string
	FilterExpr string
}

// FindEntries returns all entries whose path matches a glob pattern, ordered by path.
func FindEntries(ctx context.Context, cfg FindCfg) ([]*vfs.Entry, error) {
	storage, err := config.Storage(ctx)
	if err != nil {
		return nil, err
	}
	var filter func(util.EntryInfo) (bool, error)
	if cfg.FilterExpr != "" {
		if filter, err = util.CompileFilter(cfg.FilterExpr); err != nil {
			return nil, err
		}
	}
	paths, err := storage.Glob(ctx, cfg.Pattern)
	if err != nil {
		return nil, err
	}
	entries := make([]*vfs.Entry, 0, len(paths))
	for _, p := range paths {
		e, err := storage.Stat(ctx, p)
		if errors.Is(err, vfs.ErrFileNotFound) {
			// Removed since it was matched.
			continue
		} else if err != nil {
			return nil, err
		}
		if filter != nil {
			if keep, err := filter(util.NewEntryInfo(e, storage.Layout())); err != nil {
				return nil, err
			} else if !keep {
				continue
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
