// Package store implements the backend for commands that manage the file storage as a whole.
package store

import (
	"context"
	"time"

	"github.com/spf13/afero"
	"github.com/thinkparq/docfs/common/vfs"
	"github.com/thinkparq/docfs/ctl/pkg/config"
	"go.uber.org/zap"
)

// Info describes the file storage the CLI is configured to use.
type Info struct {
	InstanceID string
	Created    time.Time
	Version    string
	// Whether the storage was initialized by this invocation.
	FirstRun  bool
	Separator string
	IDPrefix  string
	Entries   int
	Files     int
	Bytes     int64
}

// GetInfo opens the storage, initializing it if needed, and summarizes its content.
func GetInfo(ctx context.Context) (Info, error) {
	storage, err := config.Storage(ctx)
	if err != nil {
		return Info{}, err
	}
	setup := config.StorageInfo()
	info := Info{
		InstanceID: setup.InstanceID,
		Created:    setup.Created(),
		Version:    setup.Version,
		FirstRun:   setup.FirstRun,
		Separator:  storage.Layout().Separator(),
		IDPrefix:   storage.Layout().IDPrefix(),
	}
	entries, err := storage.ListAllFiles(ctx)
	if err != nil {
		return Info{}, err
	}
	info.Entries = len(entries)
	for _, e := range entries {
		if !e.IsDirectory {
			info.Files++
			info.Bytes += e.Size
		}
	}
	return info, nil
}

// Format removes every entry from the storage.
func Format(ctx context.Context) error {
	log, _ := config.GetLogger()
	storage, err := config.Storage(ctx)
	if err != nil {
		return err
	}
	if err := storage.Format(ctx); err != nil {
		return err
	}
	log.Info("formatted file storage", zap.String("idPrefix", storage.Layout().IDPrefix()))
	return nil
}

// TransferCfg configures copying between the local file system and the storage.
type TransferCfg struct {
	// Source and Dest are local paths or storage paths depending on the direction.
	Source string
	Dest   string
	// Replace files that already exist at the destination.
	Replace bool
	// The local file system. Defaults to the OS file system.
	Fs afero.Fs
}

func (c TransferCfg) fs() afero.Fs {
	if c.Fs == nil {
		return afero.NewOsFs()
	}
	return c.Fs
}

// Import copies a local file or directory tree into the storage and returns the number of entries
// written.
func Import(ctx context.Context, cfg TransferCfg) (int, error) {
	storage, err := config.Storage(ctx)
	if err != nil {
		return 0, err
	}
	return storage.ImportTree(ctx, cfg.fs(), cfg.Source, cfg.Dest, vfs.WithReplaceExisting(cfg.Replace))
}

// Export copies a file or directory tree from the storage to the local file system and returns the
// number of entries written.
func Export(ctx context.Context, cfg TransferCfg) (int, error) {
	storage, err := config.Storage(ctx)
	if err != nil {
		return 0, err
	}
	return storage.ExportTree(ctx, cfg.fs(), cfg.Source, cfg.Dest, vfs.WithReplaceExisting(cfg.Replace))
}
