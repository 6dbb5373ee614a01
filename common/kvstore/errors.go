package kvstore

import (
	"errors"
)

var (
	ErrDocNotFound      = errors.New("document not found")
	ErrDocConflict      = errors.New("document update conflict (the revision is missing or out of date)")
	ErrDocIllegalID     = errors.New("document IDs must not be empty or contain NUL bytes")
	ErrIndexNotDefined  = errors.New("no index with the specified name has been defined")
	ErrAttachmentDigest = errors.New("attachment data does not match its recorded digest")
	// Returned by a BlobStore when the requested object does not exist.
	ErrBlobNotFound = errors.New("blob not found")
)
