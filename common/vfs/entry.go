package vfs

import (
	"mime"
	"strings"
	"time"

	"github.com/thinkparq/docfs/common/kvstore"
)

const defaultMimeType = "application/octet-stream"

// Fields is the persisted value of an entry document.
type Fields struct {
	PathElements []string `cbor:"1,keyasint"`
	Label        string   `cbor:"2,keyasint,omitempty"`
	IsDirectory  bool     `cbor:"3,keyasint,omitempty"`
	// Milliseconds since the Unix epoch.
	LastModified int64  `cbor:"4,keyasint,omitempty"`
	MimeType     string `cbor:"5,keyasint,omitempty"`
}

// Document is an entry as stored in the backend.
type Document = kvstore.Document[Fields]

// Entry is a file or directory as seen by callers of Storage.
type Entry struct {
	Path  string
	Label string
	// Directories never carry a payload or a MIME type.
	IsDirectory  bool
	LastModified time.Time
	MimeType     string
	// Payload is nil for directories, empty files, and entries listed without payloads.
	Payload []byte
	// Size is the payload length. It is also set when the payload itself was not loaded.
	Size int64
	// Rev is the revision of the document the entry was read from.
	Rev string
}

// NewFile returns a file entry. If mimeType is empty it is derived from the file extension.
func NewFile(path string, payload []byte, mimeType string) *Entry {
	return &Entry{
		Path:     path,
		MimeType: mimeType,
		Payload:  payload,
		Size:     int64(len(payload)),
	}
}

func NewDirectory(path string) *Entry {
	return &Entry{
		Path:        path,
		IsDirectory: true,
	}
}

func mimeTypeFor(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		if t := mime.TypeByExtension(name[i:]); t != "" {
			return t
		}
	}
	return defaultMimeType
}

// toDocument converts an entry into the document stored at elements. Missing labels and
// modification times are defaulted here so reads always see them set.
func (l Layout) toDocument(elements []string, e *Entry, now time.Time) *Document {
	label := NormalizeString(e.Label)
	if label == "" {
		label = elements[len(elements)-1]
	}
	modified := e.LastModified
	if modified.IsZero() {
		modified = now
	}

	doc := &Document{
		ID: l.DocumentID(elements),
		Value: Fields{
			PathElements: elements,
			Label:        label,
			IsDirectory:  e.IsDirectory,
			LastModified: modified.UnixMilli(),
		},
	}
	if e.IsDirectory {
		return doc
	}

	mimeType := e.MimeType
	if mimeType == "" {
		mimeType = mimeTypeFor(elements[len(elements)-1])
	}
	doc.Value.MimeType = mimeType
	if len(e.Payload) > 0 {
		doc.Attachments = map[string]*kvstore.Attachment{
			PayloadAttachment: kvstore.NewAttachment(mimeType, e.Payload),
		}
	}
	return doc
}

func (l Layout) fromDocument(doc *Document) *Entry {
	e := &Entry{
		Path:         l.Join(doc.Value.PathElements),
		Label:        doc.Value.Label,
		IsDirectory:  doc.Value.IsDirectory,
		LastModified: time.UnixMilli(doc.Value.LastModified),
		MimeType:     doc.Value.MimeType,
		Rev:          doc.Rev,
	}
	if att, ok := doc.Attachments[PayloadAttachment]; ok && !e.IsDirectory {
		e.Size = att.Length
		if att.ContentType != "" {
			e.MimeType = att.ContentType
		}
		if !att.Stub {
			e.Payload = att.Data
		}
	}
	return e
}

func indexPath(id string, f Fields) [][]string {
	return [][]string{f.PathElements}
}
