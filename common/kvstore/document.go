package kvstore

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Document is a single revisioned record in a DocStore. The zero Rev is used to create a document
// that does not exist yet (or only exists as a tombstone).
type Document[T any] struct {
	ID      string
	Rev     string
	Deleted bool
	Value   T
	// Attachments are binary payloads stored alongside the document. Any attachment not included
	// when a document is updated is removed.
	Attachments map[string]*Attachment
}

// Attachment is a named binary payload belonging to a document. When writing, set Data (Length
// and Digest are computed by the store). To keep an attachment from the current revision without
// resending it, pass the Attachment returned by Get with Stub still set.
type Attachment struct {
	ContentType string
	Length      int64
	Digest      string
	// Data is nil when the document was read without attachments.
	Data []byte
	Stub bool
	// Set when the payload lives in an external BlobStore.
	blobKey string
}

// NewAttachment returns an attachment ready to be written.
func NewAttachment(contentType string, data []byte) *Attachment {
	return &Attachment{
		ContentType: contentType,
		Length:      int64(len(data)),
		Digest:      digestOf(data),
		Data:        data,
	}
}

// docRecord is the on-disk representation of a document revision.
type docRecord struct {
	Rev         string                    `cbor:"1,keyasint"`
	Deleted     bool                      `cbor:"2,keyasint,omitempty"`
	Value       cbor.RawMessage           `cbor:"3,keyasint,omitempty"`
	Attachments map[string]attachmentStub `cbor:"4,keyasint,omitempty"`
}

type attachmentStub struct {
	ContentType string         `cbor:"1,keyasint"`
	Length      int64          `cbor:"2,keyasint"`
	Digest      string         `cbor:"3,keyasint"`
	Compression compressionTag `cbor:"4,keyasint,omitempty"`
	BlobKey     string         `cbor:"5,keyasint,omitempty"`
}

const digestPrefix = "blake3-"

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// nextRevision derives the revision that follows prev. The generation counter is incremented and
// the suffix is a digest over the previous revision and the new content, so two writers racing
// from the same parent with different content never produce the same token.
func nextRevision(prev string, deleted bool, value []byte, attachments map[string]attachmentStub) string {
	h := blake3.New()
	h.Write([]byte(prev))
	h.Write([]byte{0})
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(value)
	names := make([]string, 0, len(attachments))
	for name := range attachments {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(attachments[name].Digest))
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%d-%s", revGeneration(prev)+1, hex.EncodeToString(sum[:16]))
}

// revGeneration returns the generation number of a revision token, or zero if the token is empty
// or malformed.
func revGeneration(rev string) int {
	gen, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(gen)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func validateID(id string) error {
	if id == "" || strings.IndexByte(id, 0) != -1 {
		return ErrDocIllegalID
	}
	return nil
}
