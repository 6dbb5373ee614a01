package kvstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"reflect"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/thinkparq/docfs/common/types"
	"go.uber.org/zap"
)

// Key namespaces inside badger.
// IMPORTANT: Changing any of these is not backwards compatible.
const (
	docPrefix        = "d/"
	attachmentPrefix = "a/"
	indexPrefix      = "i/"
	metaPrefix       = "m/"
	localPrefix      = "l/"
)

// How often a transaction that lost a race with another writer is retried when the operation is
// safe to repeat (for example building an index). Revision checked writes are never retried.
const maxConflictRetries = 5

func docKey(id string) []byte {
	return []byte(docPrefix + id)
}

func attachmentKey(id string, name string) []byte {
	return []byte(attachmentPrefix + id + "\x00" + name)
}

// BlobStore holds attachment payloads outside of badger. Keys are opaque to the store.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte, contentType string) error
	// GetBlob returns ErrBlobNotFound if the key does not exist.
	GetBlob(ctx context.Context, key string) ([]byte, error)
	// DeleteBlob must not return an error if the key does not exist.
	DeleteBlob(ctx context.Context, key string) error
}

// Config holds the user facing database settings.
type Config struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in-memory"`
	SyncWrites bool   `mapstructure:"sync-writes"`
}

// BadgerOptions translates the Config into badger options. The logger may be nil.
func (c Config) BadgerOptions(logger badger.Logger) badger.Options {
	opts := badger.DefaultOptions(c.Path)
	if c.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	return opts.WithSyncWrites(c.SyncWrites).WithLogger(logger)
}

// DocStore is a revisioned document store on top of BadgerDB. Every document has a revision token
// that must be presented to update or remove it, secondary indexes are maintained transactionally
// with the documents they are derived from, and documents can carry binary attachments.
//
// It is safe for concurrent use. Conflicting writers are resolved by badger's optimistic
// transactions (https://dgraph.io/docs/badger/get-started/#transactions) and the revision check:
// the loser receives ErrDocConflict.
type DocStore[T any] struct {
	db     *badger.DB
	log    *zap.Logger
	config *docStoreConfig
	mu     sync.RWMutex
	// Index functions registered with DefineIndex.
	indexes map[string]IndexFunc[T]
	// Indexes whose entries are known to be complete. Writes made while a built index is not
	// registered invalidate it so the next DefineIndex rebuilds it.
	built map[string]bool
	gc    *badgerGarbageCollection
}

type docStoreConfig struct {
	log            *zap.Logger
	blobs          BlobStore
	blobThreshold  int
	indexBatchSize int
	gcOpts         []badgerGarbageCollectionOpt
}

type docStoreOpt func(*docStoreConfig)

func WithLogger(log *zap.Logger) docStoreOpt {
	return func(cfg *docStoreConfig) {
		cfg.log = log
	}
}

// WithBlobStore stores attachments of at least threshold bytes in blobs instead of badger.
func WithBlobStore(blobs BlobStore, threshold int) docStoreOpt {
	return func(cfg *docStoreConfig) {
		cfg.blobs = blobs
		cfg.blobThreshold = threshold
	}
}

// The number of documents indexed per transaction when an index is (re)built.
func WithIndexBatchSize(size int) docStoreOpt {
	return func(cfg *docStoreConfig) {
		if size > 0 {
			cfg.indexBatchSize = size
		}
	}
}

// WithGarbageCollection customizes the value log garbage collection runner. The runner is not
// started for in-memory databases.
func WithGarbageCollection(opts ...badgerGarbageCollectionOpt) docStoreOpt {
	return func(cfg *docStoreConfig) {
		cfg.gcOpts = append(cfg.gcOpts, opts...)
	}
}

// NewDocStore opens the database described by opts. It returns the DocStore and a function that
// must be called to close the database when the store is no longer needed.
func NewDocStore[T any](opts badger.Options, dsOpts ...docStoreOpt) (*DocStore[T], func() error, error) {
	cfg := &docStoreConfig{
		log:            zap.NewNop(),
		indexBatchSize: 1000,
	}
	for _, opt := range dsOpts {
		opt(cfg)
	}
	log := cfg.log.With(zap.String("component", path.Base(reflect.TypeOf(Config{}).PkgPath())))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, err
	}

	built, err := loadIndexMarkers(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var gc *badgerGarbageCollection
	if !opts.InMemory {
		gc = NewBadgerGarbageCollection(db, log, cfg.gcOpts...)
		gc.StartRunner()
	}

	closeFunc := func() error {
		multiErr := types.MultiError{}
		if gc != nil {
			gc.Stop()
		}
		if err := db.Close(); err != nil {
			multiErr.Errors = append(multiErr.Errors, err)
		}
		if len(multiErr.Errors) != 0 {
			return &multiErr
		}
		return nil
	}

	return &DocStore[T]{
		db:      db,
		log:     log,
		config:  cfg,
		indexes: make(map[string]IndexFunc[T]),
		built:   built,
		gc:      gc,
	}, closeFunc, nil
}

func loadIndexMarkers(db *badger.DB) (map[string]bool, error) {
	built := map[string]bool{}
	prefix := []byte(metaPrefix + "index/")
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			built[string(it.Item().Key()[len(prefix):])] = true
		}
		return nil
	})
	return built, err
}

// DB returns the underlying badger database.
func (s *DocStore[T]) DB() *badger.DB {
	return s.db
}

func readRecord(txn *badger.Txn, id string) (*docRecord, error) {
	item, err := txn.Get(docKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrDocNotFound
	} else if err != nil {
		return nil, err
	}
	rec := &docRecord{}
	err = item.Value(func(val []byte) error {
		return unmarshal(val, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to decode document %s: %w", id, err)
	}
	return rec, nil
}

func writeRecord(txn *badger.Txn, id string, rec *docRecord) error {
	encoded, err := marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(docKey(id), encoded)
}

// decodeRecord converts a stored record into a Document. Inline attachment data is only read when
// withAttachments is set. External attachments are loaded later by loadExternalAttachments so no
// network calls happen inside a transaction.
func (s *DocStore[T]) decodeRecord(txn *badger.Txn, id string, rec *docRecord, withAttachments bool) (*Document[T], error) {
	doc := &Document[T]{
		ID:      id,
		Rev:     rec.Rev,
		Deleted: rec.Deleted,
	}
	if len(rec.Value) != 0 {
		if err := unmarshal(rec.Value, &doc.Value); err != nil {
			return nil, fmt.Errorf("unable to decode document %s: %w", id, err)
		}
	}
	if len(rec.Attachments) == 0 {
		return doc, nil
	}
	doc.Attachments = make(map[string]*Attachment, len(rec.Attachments))
	for name, stub := range rec.Attachments {
		att := &Attachment{
			ContentType: stub.ContentType,
			Length:      stub.Length,
			Digest:      stub.Digest,
			Stub:        true,
			blobKey:     stub.BlobKey,
		}
		if withAttachments && stub.BlobKey == "" {
			data, err := readAttachment(txn, id, name, stub)
			if err != nil {
				return nil, err
			}
			att.Data = data
			att.Stub = false
		}
		doc.Attachments[name] = att
	}
	return doc, nil
}

func readAttachment(txn *badger.Txn, id string, name string, stub attachmentStub) ([]byte, error) {
	item, err := txn.Get(attachmentKey(id, name))
	if err != nil {
		return nil, fmt.Errorf("unable to read attachment %s of document %s: %w", name, id, err)
	}
	stored, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	data, err := decodeAttachment(stored, stub.Compression, stub.Length)
	if err != nil {
		return nil, fmt.Errorf("unable to decode attachment %s of document %s: %w", name, id, err)
	}
	if digestOf(data) != stub.Digest {
		return nil, fmt.Errorf("%w: attachment %s of document %s", ErrAttachmentDigest, name, id)
	}
	return data, nil
}

func (s *DocStore[T]) loadExternalAttachments(ctx context.Context, doc *Document[T]) error {
	if doc == nil {
		return nil
	}
	for name, att := range doc.Attachments {
		if att.blobKey == "" || att.Data != nil {
			continue
		}
		if s.config.blobs == nil {
			return fmt.Errorf("attachment %s of document %s is stored externally but no blob store is configured", name, doc.ID)
		}
		data, err := s.config.blobs.GetBlob(ctx, att.blobKey)
		if err != nil {
			return fmt.Errorf("unable to fetch attachment %s of document %s: %w", name, doc.ID, err)
		}
		if digestOf(data) != att.Digest {
			return fmt.Errorf("%w: attachment %s of document %s", ErrAttachmentDigest, name, doc.ID)
		}
		att.Data = data
		att.Stub = false
	}
	return nil
}

type getConfig struct {
	attachments bool
}

type GetOpt func(*getConfig)

// WithAttachments includes attachment data in the returned document.
func WithAttachments(include bool) GetOpt {
	return func(cfg *getConfig) {
		cfg.attachments = include
	}
}

// Get returns the current revision of a document, or ErrDocNotFound if it does not exist or was
// removed. Attachment data is only included WithAttachments(true).
func (s *DocStore[T]) Get(ctx context.Context, id string, opts ...GetOpt) (*Document[T], error) {
	cfg := &getConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	var doc *Document[T]
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := readRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return ErrDocNotFound
		}
		doc, err = s.decodeRecord(txn, id, rec, cfg.attachments)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cfg.attachments {
		if err := s.loadExternalAttachments(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

type preparedAttachment struct {
	stub    bool
	meta    attachmentStub
	payload []byte
}

// prepareAttachments compresses inline attachments and uploads external ones. It returns the keys
// of every uploaded blob so they can be cleaned up if the write does not commit.
func (s *DocStore[T]) prepareAttachments(ctx context.Context, doc *Document[T]) (map[string]*preparedAttachment, []string, error) {
	prepared := make(map[string]*preparedAttachment, len(doc.Attachments))
	uploaded := []string{}
	for name, att := range doc.Attachments {
		if att == nil {
			continue
		}
		if name == "" || validateID(name) != nil {
			return nil, uploaded, fmt.Errorf("invalid attachment name %q", name)
		}
		if att.Stub {
			prepared[name] = &preparedAttachment{stub: true, meta: attachmentStub{Digest: att.Digest}}
			continue
		}
		p := &preparedAttachment{
			meta: attachmentStub{
				ContentType: att.ContentType,
				Length:      int64(len(att.Data)),
				Digest:      digestOf(att.Data),
			},
		}
		if s.config.blobs != nil && len(att.Data) >= s.config.blobThreshold {
			// Blob keys are unique per write so a failed or superseded write never removes a
			// blob that another revision still references.
			p.meta.BlobKey = url.PathEscape(doc.ID) + "/" + url.PathEscape(name) + "/" + uuid.NewString()
			if err := s.config.blobs.PutBlob(ctx, p.meta.BlobKey, att.Data, att.ContentType); err != nil {
				return nil, uploaded, fmt.Errorf("unable to upload attachment %s of document %s: %w", name, doc.ID, err)
			}
			uploaded = append(uploaded, p.meta.BlobKey)
		} else {
			payload, tag, err := encodeAttachment(att.Data, att.ContentType)
			if err != nil {
				return nil, uploaded, err
			}
			p.payload = payload
			p.meta.Compression = tag
		}
		prepared[name] = p
	}
	return prepared, uploaded, nil
}

func (s *DocStore[T]) deleteBlobs(keys []string) {
	if s.config.blobs == nil || len(keys) == 0 {
		return
	}
	for _, key := range keys {
		// The write already finished or failed, so a cancelled caller context must not leak blobs.
		if err := s.config.blobs.DeleteBlob(context.Background(), key); err != nil {
			s.log.Warn("unable to delete unreferenced blob", zap.String("key", key), zap.Error(err))
		}
	}
}

func checkRevision(cur *docRecord, rev string) error {
	switch {
	case cur == nil:
		if rev != "" {
			return ErrDocConflict
		}
	case cur.Deleted:
		if rev != "" && rev != cur.Rev {
			return ErrDocConflict
		}
	case rev != cur.Rev:
		return ErrDocConflict
	}
	return nil
}

// Put creates or updates a document and returns its new revision. To update an existing document
// doc.Rev must be its current revision, otherwise ErrDocConflict is returned. A document that does
// not exist (or was removed) can be written without a revision. Putting a document with Deleted
// set is the same as calling Remove.
func (s *DocStore[T]) Put(ctx context.Context, doc *Document[T]) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("document must not be nil")
	}
	if doc.Deleted {
		return s.Remove(ctx, doc.ID, doc.Rev)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateID(doc.ID); err != nil {
		return "", err
	}
	value, err := marshal(doc.Value)
	if err != nil {
		return "", fmt.Errorf("unable to encode document %s: %w", doc.ID, err)
	}

	prepared, uploaded, err := s.prepareAttachments(ctx, doc)
	if err != nil {
		s.deleteBlobs(uploaded)
		return "", err
	}

	var (
		newRev   string
		obsolete []string
		orphaned []string
	)
	err = s.db.Update(func(txn *badger.Txn) error {
		obsolete = obsolete[:0]
		cur, err := readRecord(txn, doc.ID)
		if errors.Is(err, ErrDocNotFound) {
			cur = nil
		} else if err != nil {
			return err
		}
		if err := checkRevision(cur, doc.Rev); err != nil {
			return err
		}

		var (
			prevRev  string
			oldValue *T
			oldAtts  map[string]attachmentStub
		)
		if cur != nil {
			prevRev = cur.Rev
			if !cur.Deleted {
				oldValue = new(T)
				if err := unmarshal(cur.Value, oldValue); err != nil {
					return fmt.Errorf("unable to decode document %s: %w", doc.ID, err)
				}
				oldAtts = cur.Attachments
			}
		}

		rec := &docRecord{Value: value}
		if len(prepared) > 0 {
			rec.Attachments = make(map[string]attachmentStub, len(prepared))
		}
		for name, p := range prepared {
			if p.stub {
				old, ok := oldAtts[name]
				if !ok || old.Digest != p.meta.Digest {
					return fmt.Errorf("%w: attachment stub %s does not match the current revision", ErrDocConflict, name)
				}
				rec.Attachments[name] = old
				continue
			}
			rec.Attachments[name] = p.meta
			if p.meta.BlobKey == "" {
				if err := txn.Set(attachmentKey(doc.ID, name), p.payload); err != nil {
					return err
				}
			}
		}
		for name, old := range oldAtts {
			replacement, kept := rec.Attachments[name]
			if kept && replacement == old {
				continue
			}
			if old.BlobKey != "" {
				obsolete = append(obsolete, old.BlobKey)
			} else if !kept || replacement.BlobKey != "" {
				if err := txn.Delete(attachmentKey(doc.ID, name)); err != nil {
					return err
				}
			}
		}

		rec.Rev = nextRevision(prevRev, false, value, rec.Attachments)
		orphaned, err = s.updateIndexes(txn, doc.ID, oldValue, &doc.Value)
		if err != nil {
			return err
		}
		if err := writeRecord(txn, doc.ID, rec); err != nil {
			return err
		}
		newRev = rec.Rev
		return nil
	})
	if err != nil {
		s.deleteBlobs(uploaded)
		if errors.Is(err, badger.ErrConflict) {
			return "", fmt.Errorf("%w: %s", ErrDocConflict, err)
		}
		return "", err
	}
	s.forgetIndexes(orphaned)
	s.deleteBlobs(obsolete)
	return newRev, nil
}

// Remove marks a document as deleted (a tombstone is kept so the revision history continues) and
// drops its attachments and index entries. It returns the tombstone revision. ErrDocNotFound is
// returned if there is no live document and ErrDocConflict if rev is not the current revision.
func (s *DocStore[T]) Remove(ctx context.Context, id string, rev string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateID(id); err != nil {
		return "", err
	}

	var (
		newRev   string
		obsolete []string
		orphaned []string
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		obsolete = obsolete[:0]
		cur, err := readRecord(txn, id)
		if err != nil {
			return err
		}
		if cur.Deleted {
			return ErrDocNotFound
		}
		if rev != cur.Rev {
			return ErrDocConflict
		}
		oldValue := new(T)
		if err := unmarshal(cur.Value, oldValue); err != nil {
			return fmt.Errorf("unable to decode document %s: %w", id, err)
		}
		for name, att := range cur.Attachments {
			if att.BlobKey != "" {
				obsolete = append(obsolete, att.BlobKey)
				continue
			}
			if err := txn.Delete(attachmentKey(id, name)); err != nil {
				return err
			}
		}
		orphaned, err = s.updateIndexes(txn, id, oldValue, nil)
		if err != nil {
			return err
		}
		tombstone := &docRecord{Deleted: true}
		tombstone.Rev = nextRevision(cur.Rev, true, nil, nil)
		if err := writeRecord(txn, id, tombstone); err != nil {
			return err
		}
		newRev = tombstone.Rev
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return "", fmt.Errorf("%w: %s", ErrDocConflict, err)
		}
		return "", err
	}
	s.forgetIndexes(orphaned)
	s.deleteBlobs(obsolete)
	return newRev, nil
}

// BulkResult is the outcome of a single document in BulkWrite.
type BulkResult struct {
	ID  string
	Rev string
	Err error
}

// BulkWrite applies Put (or Remove for documents with Deleted set) to every document. Documents are
// written independently: a failure for one document is reported in its BulkResult and does not
// stop the others. The returned error is only set if ctx is cancelled, in which case the results
// for documents that were already processed are still returned.
func (s *DocStore[T]) BulkWrite(ctx context.Context, docs []*Document[T]) ([]BulkResult, error) {
	results := make([]BulkResult, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if doc == nil {
			continue
		}
		var (
			rev string
			err error
		)
		if doc.Deleted {
			rev, err = s.Remove(ctx, doc.ID, doc.Rev)
		} else {
			rev, err = s.Put(ctx, doc)
		}
		results = append(results, BulkResult{ID: doc.ID, Rev: rev, Err: err})
	}
	return results, nil
}

type queryConfig struct {
	idPrefix    string
	startID     string
	endID       string
	key         []string
	keyPrefix   []string
	includeDocs bool
	attachments bool
	limit       int
}

type QueryOpt func(*queryConfig)

func newQueryConfig(opts []QueryOpt) *queryConfig {
	cfg := &queryConfig{includeDocs: true}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithIDPrefix limits AllDocs to document IDs starting with prefix.
func WithIDPrefix(prefix string) QueryOpt {
	return func(cfg *queryConfig) {
		cfg.idPrefix = prefix
	}
}

// WithStartID makes AllDocs start at this ID (inclusive).
func WithStartID(id string) QueryOpt {
	return func(cfg *queryConfig) {
		cfg.startID = id
	}
}

// WithEndID makes AllDocs stop before this ID (exclusive).
func WithEndID(id string) QueryOpt {
	return func(cfg *queryConfig) {
		cfg.endID = id
	}
}

// WithKey limits Query to rows whose key equals key.
func WithKey(key ...string) QueryOpt {
	return func(cfg *queryConfig) {
		cfg.key = append([]string{}, key...)
	}
}

// WithKeyPrefix limits Query to rows whose key starts with all of the given elements and has at
// least one more element.
func WithKeyPrefix(elements ...string) QueryOpt {
	return func(cfg *queryConfig) {
		cfg.keyPrefix = append([]string{}, elements...)
	}
}

// WithIncludeDocs controls if Query reads the documents for each row (default true).
func WithIncludeDocs(include bool) QueryOpt {
	return func(cfg *queryConfig) {
		cfg.includeDocs = include
	}
}

// WithIncludeAttachments includes attachment data in returned documents.
func WithIncludeAttachments(include bool) QueryOpt {
	return func(cfg *queryConfig) {
		cfg.attachments = include
	}
}

// WithLimit stops after n results. Zero means no limit.
func WithLimit(n int) QueryOpt {
	return func(cfg *queryConfig) {
		cfg.limit = n
	}
}

// AllDocs returns every live document ordered by ID. Use WithIDPrefix, WithStartID and WithEndID
// to restrict the range.
func (s *DocStore[T]) AllDocs(ctx context.Context, opts ...QueryOpt) ([]*Document[T], error) {
	cfg := newQueryConfig(opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(docPrefix + cfg.idPrefix)
	docs := []*Document[T]{}
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = prefix
		it := txn.NewIterator(itOpts)
		defer it.Close()

		if cfg.startID != "" {
			it.Seek(docKey(cfg.startID))
		} else {
			it.Rewind()
		}
		for ; it.Valid(); it.Next() {
			if cfg.limit > 0 && len(docs) >= cfg.limit {
				return nil
			}
			id := string(it.Item().Key()[len(docPrefix):])
			if cfg.endID != "" && id >= cfg.endID {
				return nil
			}
			rec := &docRecord{}
			if err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, rec)
			}); err != nil {
				return fmt.Errorf("unable to decode document %s: %w", id, err)
			}
			if rec.Deleted {
				continue
			}
			doc, err := s.decodeRecord(txn, id, rec, cfg.attachments)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cfg.attachments {
		for _, doc := range docs {
			if err := s.loadExternalAttachments(ctx, doc); err != nil {
				return nil, err
			}
		}
	}
	return docs, nil
}
