package vfs

import (
	"errors"
	"fmt"
)

// Every error returned by Storage matches exactly one of these kinds with errors.Is.
var (
	ErrInvalidPath      = errors.New("invalid path")
	ErrFileWithSamePath = errors.New("an entry with the same path already exists")
	ErrFileNotFound     = errors.New("file not found")
	ErrStorage          = errors.New("storage error")
)

// Error describes a failed operation on a single path. It matches both its Kind and the
// underlying cause (for example kvstore.ErrDocConflict) with errors.Is.
type Error struct {
	Kind error
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %q", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s: %q: %s", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// classify returns err unchanged if it was already classified, otherwise it is reported as a
// storage error for path.
func classify(path string, err error) error {
	if err == nil {
		return nil
	}
	var vfsErr *Error
	if errors.As(err, &vfsErr) {
		return err
	}
	return newError(ErrStorage, path, err)
}

// kindLabel is used for metrics.
func kindLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrFileWithSamePath):
		return "exists"
	case errors.Is(err, ErrFileNotFound):
		return "not_found"
	default:
		return "storage_error"
	}
}
