package vfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thinkparq/docfs/common/kvstore"
)

const (
	// PathIndex orders entries by their path elements.
	PathIndex = "path"
	// FlagDocumentID is the local document marking a backend as initialized.
	FlagDocumentID = "filestorage"
	Version        = "0.1.0"
)

// SetupInfo is stored in the flag document when a backend is first set up.
type SetupInfo struct {
	InstanceID string `cbor:"1,keyasint"`
	// Milliseconds since the Unix epoch.
	CreatedAt int64  `cbor:"2,keyasint"`
	Version   string `cbor:"3,keyasint"`
	// FirstRun is only set for the caller that initialized the backend.
	FirstRun bool `cbor:"-"`
}

func (i *SetupInfo) Created() time.Time {
	return time.UnixMilli(i.CreatedAt)
}

// Setup defines the path index and marks the backend as initialized. It is safe to call
// repeatedly and concurrently: exactly one caller gets FirstRun set, everyone else gets the stored
// information.
func Setup(ctx context.Context, backend Backend) (*SetupInfo, error) {
	if err := backend.DefineIndex(ctx, PathIndex, indexPath); err != nil {
		return nil, fmt.Errorf("unable to define the %s index: %w", PathIndex, err)
	}

	info := &SetupInfo{
		InstanceID: uuid.New().String(),
		CreatedAt:  time.Now().UnixMilli(),
		Version:    Version,
	}
	created, err := backend.PutLocalIfAbsent(ctx, FlagDocumentID, info)
	if err != nil {
		return nil, fmt.Errorf("unable to mark the backend as initialized: %w", err)
	}
	if created {
		info.FirstRun = true
		return info, nil
	}

	stored := &SetupInfo{}
	if err := backend.GetLocal(ctx, FlagDocumentID, stored); err != nil {
		return nil, fmt.Errorf("unable to read the initialization flag: %w", err)
	}
	return stored, nil
}

// IsInitialized reports whether Setup has completed on backend at least once.
func IsInitialized(ctx context.Context, backend Backend) (bool, error) {
	err := backend.GetLocal(ctx, FlagDocumentID, &SetupInfo{})
	if errors.Is(err, kvstore.ErrDocNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Open runs Setup and returns a Storage on top of backend.
func Open(ctx context.Context, backend Backend, opts ...storageOpt) (*Storage, *SetupInfo, error) {
	info, err := Setup(ctx, backend)
	if err != nil {
		return nil, nil, err
	}
	return New(backend, opts...), info, nil
}
