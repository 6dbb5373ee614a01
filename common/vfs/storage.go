package vfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/thinkparq/docfs/common/kvstore"
	"github.com/thinkparq/docfs/common/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Backend is the document store Storage persists entries in. It is implemented by
// kvstore.DocStore[Fields].
type Backend interface {
	Get(ctx context.Context, id string, opts ...kvstore.GetOpt) (*Document, error)
	Put(ctx context.Context, doc *Document) (string, error)
	Remove(ctx context.Context, id string, rev string) (string, error)
	BulkWrite(ctx context.Context, docs []*Document) ([]kvstore.BulkResult, error)
	AllDocs(ctx context.Context, opts ...kvstore.QueryOpt) ([]*Document, error)
	DefineIndex(ctx context.Context, name string, fn kvstore.IndexFunc[Fields]) error
	Query(ctx context.Context, index string, opts ...kvstore.QueryOpt) ([]*kvstore.Row[Fields], error)
	GetLocal(ctx context.Context, id string, v any) error
	PutLocalIfAbsent(ctx context.Context, id string, v any) (bool, error)
}

var _ Backend = &kvstore.DocStore[Fields]{}

const defaultRemoveWorkers = 4

// Config allows Storage to be configured from a config file or flags.
type Config struct {
	Separator     string `mapstructure:"separator"`
	IDPrefix      string `mapstructure:"id-prefix"`
	RemoveWorkers int    `mapstructure:"remove-workers"`
}

// Options converts the configuration into storage options. Empty values keep the defaults.
func (c Config) Options() ([]storageOpt, error) {
	opts := []storageOpt{}
	if c.Separator != "" || c.IDPrefix != "" {
		separator, idPrefix := DefaultSeparator, DefaultIDPrefix
		if c.Separator != "" {
			separator = c.Separator
		}
		if c.IDPrefix != "" {
			idPrefix = c.IDPrefix
		}
		layout, err := NewLayout(separator, idPrefix)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithLayout(layout))
	}
	if c.RemoveWorkers < 0 {
		return nil, fmt.Errorf("the number of remove workers must not be negative (got %d)", c.RemoveWorkers)
	} else if c.RemoveWorkers > 0 {
		opts = append(opts, WithRemoveWorkers(c.RemoveWorkers))
	}
	return opts, nil
}

// Storage is a file storage on top of a Backend. It holds no mutable state of its own and is safe
// for concurrent use.
type Storage struct {
	backend Backend
	layout  Layout
	log     *zap.Logger
	metrics *Metrics
	workers int
	now     func() time.Time
}

type storageConfig struct {
	layout  Layout
	log     *zap.Logger
	metrics *Metrics
	workers int
	now     func() time.Time
}

type storageOpt func(*storageConfig)

func WithLayout(layout Layout) storageOpt {
	return func(cfg *storageConfig) {
		cfg.layout = layout
	}
}

func WithLogger(log *zap.Logger) storageOpt {
	return func(cfg *storageConfig) {
		cfg.log = log
	}
}

// WithMetrics records operation counts, latencies and payload bytes.
func WithMetrics(m *Metrics) storageOpt {
	return func(cfg *storageConfig) {
		cfg.metrics = m
	}
}

// WithRemoveWorkers limits how many children of a directory are removed concurrently by a
// recursive RmDir.
func WithRemoveWorkers(n int) storageOpt {
	return func(cfg *storageConfig) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

func withClock(now func() time.Time) storageOpt {
	return func(cfg *storageConfig) {
		cfg.now = now
	}
}

// New returns a Storage on top of backend. The backend must have been prepared with Setup (see
// Open), otherwise every operation that needs the path index fails with ErrStorage.
func New(backend Backend, opts ...storageOpt) *Storage {
	cfg := &storageConfig{
		layout:  DefaultLayout(),
		log:     zap.NewNop(),
		workers: defaultRemoveWorkers,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Storage{
		backend: backend,
		layout:  cfg.layout,
		log:     cfg.log.With(zap.String("component", path.Base(reflect.TypeOf(Storage{}).PkgPath()))),
		metrics: cfg.metrics,
		workers: cfg.workers,
		now:     cfg.now,
	}
}

func (s *Storage) Layout() Layout {
	return s.layout
}

// Unwrap returns the backend this storage was created with.
func (s *Storage) Unwrap() Backend {
	return s.backend
}

// Format removes every entry in this storage's namespace. Documents outside of the namespace and
// local documents (including the setup flag) are kept. Entries removed concurrently are ignored,
// any other failure is collected and returned after all entries were attempted.
func (s *Storage) Format(ctx context.Context) (err error) {
	defer s.metrics.observe("format", time.Now(), &err)

	docs, err := s.backend.AllDocs(ctx, kvstore.WithIDPrefix(s.layout.namespace()))
	if err != nil {
		return newError(ErrStorage, "", fmt.Errorf("unable to list entries: %w", err))
	}
	if len(docs) == 0 {
		return nil
	}
	tombstones := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		tombstones = append(tombstones, &Document{ID: doc.ID, Rev: doc.Rev, Deleted: true})
	}
	results, err := s.backend.BulkWrite(ctx, tombstones)
	multiErr := &types.MultiError{}
	multiErr.Add(err)
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, kvstore.ErrDocNotFound) {
			multiErr.Add(fmt.Errorf("%s: %w", r.ID, r.Err))
		}
	}
	if err := multiErr.ErrorOrNil(); err != nil {
		return newError(ErrStorage, "", err)
	}
	s.log.Debug("formatted storage", zap.Int("removed", len(results)))
	return nil
}

type addFileConfig struct {
	overwrite bool
}

type AddFileOpt func(*addFileConfig)

// WithOverwrite replaces an existing entry at the same path.
func WithOverwrite(overwrite bool) AddFileOpt {
	return func(cfg *addFileConfig) {
		cfg.overwrite = overwrite
	}
}

// AddFile stores entry and returns its canonical path. The parent directory must exist. If an
// entry with the same path exists ErrFileWithSamePath is returned and the existing entry is left
// untouched, unless WithOverwrite is set. Overwriting replaces the entry including its kind, except
// that a directory with children is never replaced by a file. A concurrent writer changing
// the entry between the existence check and the write results in ErrStorage wrapping
// kvstore.ErrDocConflict.
func (s *Storage) AddFile(ctx context.Context, entry *Entry, opts ...AddFileOpt) (p string, err error) {
	defer s.metrics.observe("add_file", time.Now(), &err)
	cfg := &addFileConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return s.addEntry(ctx, entry, cfg.overwrite)
}

func (s *Storage) addEntry(ctx context.Context, entry *Entry, overwrite bool) (string, error) {
	if entry == nil {
		return "", newError(ErrInvalidPath, "", fmt.Errorf("entry must not be nil"))
	}
	elements := s.layout.Elements(entry.Path)
	if len(elements) == 0 {
		return "", newError(ErrInvalidPath, entry.Path, nil)
	}
	p := s.layout.Join(elements)
	if entry.IsDirectory && len(entry.Payload) > 0 {
		return "", newError(ErrInvalidPath, p, fmt.Errorf("directories cannot have content"))
	}
	if _, err := s.ensureParentExists(ctx, elements, true); err != nil {
		return "", err
	}

	doc := s.layout.toDocument(elements, entry, s.now())
	existing, err := s.backend.Get(ctx, doc.ID)
	switch {
	case err == nil:
		if !overwrite {
			return "", newError(ErrFileWithSamePath, p, nil)
		}
		if existing.Value.IsDirectory && !entry.IsDirectory {
			children, err := s.children(ctx, elements, false)
			if err != nil {
				return "", newError(ErrStorage, p, err)
			}
			if len(children) > 0 {
				return "", newError(ErrFileWithSamePath, p, fmt.Errorf("a directory with children cannot be replaced by a file"))
			}
		}
		doc.Rev = existing.Rev
	case errors.Is(err, kvstore.ErrDocNotFound):
	default:
		return "", newError(ErrStorage, p, err)
	}

	if _, err := s.backend.Put(ctx, doc); err != nil {
		return "", newError(ErrStorage, p, err)
	}
	s.metrics.addBytes("in", len(entry.Payload))
	s.log.Debug("stored entry", zap.String("path", p), zap.Bool("directory", entry.IsDirectory), zap.Bool("replaced", doc.Rev != ""))
	return p, nil
}

type mkDirConfig struct {
	parents bool
}

type MkDirOpt func(*mkDirConfig)

// WithParents also creates missing parent directories. Directories that already exist are not an
// error.
func WithParents(parents bool) MkDirOpt {
	return func(cfg *mkDirConfig) {
		cfg.parents = parents
	}
}

// MkDir creates a directory and returns its canonical path.
func (s *Storage) MkDir(ctx context.Context, dirPath string, opts ...MkDirOpt) (p string, err error) {
	defer s.metrics.observe("mkdir", time.Now(), &err)
	cfg := &mkDirConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if !cfg.parents {
		return s.addEntry(ctx, NewDirectory(dirPath), false)
	}

	elements := s.layout.Elements(dirPath)
	if len(elements) == 0 {
		return "", newError(ErrInvalidPath, dirPath, nil)
	}
	for i := 1; i <= len(elements); i++ {
		_, err := s.addEntry(ctx, NewDirectory(s.layout.Join(elements[:i])), false)
		if err != nil && !errors.Is(err, ErrFileWithSamePath) {
			return "", err
		}
	}
	return s.layout.Join(elements), nil
}

type rmDirConfig struct {
	recursive bool
}

type RmDirOpt func(*rmDirConfig)

// WithRecursive removes the directory together with everything below it.
func WithRecursive(recursive bool) RmDirOpt {
	return func(cfg *rmDirConfig) {
		cfg.recursive = recursive
	}
}

// RmDir removes a directory. It returns false if there is no directory at dirPath or it is not
// empty and WithRecursive was not set. A recursive removal deletes children before their parent
// and fails as a whole if any of them could not be removed (entries already removed stay removed).
func (s *Storage) RmDir(ctx context.Context, dirPath string, opts ...RmDirOpt) (removed bool, err error) {
	defer s.metrics.observe("rmdir", time.Now(), &err)
	cfg := &rmDirConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	elements := s.layout.Elements(dirPath)
	if len(elements) == 0 {
		return false, newError(ErrInvalidPath, dirPath, nil)
	}
	return s.rmDir(ctx, elements, cfg.recursive)
}

func (s *Storage) rmDir(ctx context.Context, elements []string, recursive bool) (bool, error) {
	p := s.layout.Join(elements)
	doc, err := s.backend.Get(ctx, s.layout.DocumentID(elements))
	if errors.Is(err, kvstore.ErrDocNotFound) {
		return false, nil
	} else if err != nil {
		return false, newError(ErrStorage, p, err)
	}
	if !doc.Value.IsDirectory {
		return false, nil
	}

	children, err := s.children(ctx, elements, false)
	if err != nil {
		return false, newError(ErrStorage, p, err)
	}
	if len(children) > 0 {
		if !recursive {
			return false, nil
		}
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for _, child := range children {
			g.Go(func() error {
				if child.Value.IsDirectory {
					// A child directory that vanished in the meantime is already gone.
					_, err := s.rmDir(gCtx, child.Value.PathElements, true)
					return err
				}
				return s.removeDocument(gCtx, child)
			})
		}
		if err := g.Wait(); err != nil {
			return false, err
		}
	}

	if _, err := s.backend.Remove(ctx, doc.ID, doc.Rev); err != nil {
		if errors.Is(err, kvstore.ErrDocNotFound) {
			return false, nil
		}
		return false, newError(ErrStorage, p, err)
	}
	s.log.Debug("removed directory", zap.String("path", p), zap.Int("children", len(children)))
	return true, nil
}

// removeDocument removes the revision of a file that was listed. A file that is already gone is
// not an error, a file that was changed since it was listed is.
func (s *Storage) removeDocument(ctx context.Context, doc *Document) error {
	if _, err := s.backend.Remove(ctx, doc.ID, doc.Rev); err != nil && !errors.Is(err, kvstore.ErrDocNotFound) {
		return newError(ErrStorage, s.layout.Join(doc.Value.PathElements), err)
	}
	return nil
}

// GetFile returns the entry at filePath including its payload. Directories are returned as well.
func (s *Storage) GetFile(ctx context.Context, filePath string) (entry *Entry, err error) {
	defer s.metrics.observe("get_file", time.Now(), &err)
	entry, err = s.getEntry(ctx, filePath, true)
	if err != nil {
		return nil, err
	}
	s.metrics.addBytes("out", len(entry.Payload))
	return entry, nil
}

// Stat returns the entry at the given path without loading its payload. Size and MimeType are
// still populated from the stored attachment metadata.
func (s *Storage) Stat(ctx context.Context, entryPath string) (entry *Entry, err error) {
	defer s.metrics.observe("stat", time.Now(), &err)
	return s.getEntry(ctx, entryPath, false)
}

func (s *Storage) getEntry(ctx context.Context, entryPath string, payload bool) (*Entry, error) {
	elements := s.layout.Elements(entryPath)
	if len(elements) == 0 {
		return nil, newError(ErrInvalidPath, entryPath, nil)
	}
	p := s.layout.Join(elements)
	doc, err := s.backend.Get(ctx, s.layout.DocumentID(elements), kvstore.WithAttachments(payload))
	if errors.Is(err, kvstore.ErrDocNotFound) {
		return nil, newError(ErrFileNotFound, p, nil)
	} else if err != nil {
		return nil, newError(ErrStorage, p, err)
	}
	return s.layout.fromDocument(doc), nil
}

func (s *Storage) Exists(ctx context.Context, entryPath string) (exists bool, err error) {
	defer s.metrics.observe("exists", time.Now(), &err)
	elements := s.layout.Elements(entryPath)
	if len(elements) == 0 {
		return false, newError(ErrInvalidPath, entryPath, nil)
	}
	_, err = s.backend.Get(ctx, s.layout.DocumentID(elements))
	if errors.Is(err, kvstore.ErrDocNotFound) {
		return false, nil
	} else if err != nil {
		return false, newError(ErrStorage, s.layout.Join(elements), err)
	}
	return true, nil
}

// Delete removes the file at filePath. It returns false if there is no file there (directories are
// removed with RmDir).
func (s *Storage) Delete(ctx context.Context, filePath string) (deleted bool, err error) {
	defer s.metrics.observe("delete", time.Now(), &err)
	elements := s.layout.Elements(filePath)
	if len(elements) == 0 {
		return false, newError(ErrInvalidPath, filePath, nil)
	}
	p := s.layout.Join(elements)
	doc, err := s.backend.Get(ctx, s.layout.DocumentID(elements))
	if errors.Is(err, kvstore.ErrDocNotFound) {
		return false, nil
	} else if err != nil {
		return false, newError(ErrStorage, p, err)
	}
	if doc.Value.IsDirectory {
		return false, nil
	}
	if _, err := s.backend.Remove(ctx, doc.ID, doc.Rev); err != nil {
		if errors.Is(err, kvstore.ErrDocNotFound) {
			return false, nil
		}
		return false, newError(ErrStorage, p, err)
	}
	s.log.Debug("deleted file", zap.String("path", p))
	return true, nil
}

type listConfig struct {
	payloads bool
}

type ListOpt func(*listConfig)

// WithPayloads includes file content in listed entries.
func WithPayloads(include bool) ListOpt {
	return func(cfg *listConfig) {
		cfg.payloads = include
	}
}

// ListAllFiles returns every entry ordered by path: elements are compared one by one, so a
// directory is always followed by its descendants before its next sibling.
func (s *Storage) ListAllFiles(ctx context.Context, opts ...ListOpt) (entries []*Entry, err error) {
	defer s.metrics.observe("list", time.Now(), &err)
	cfg := &listConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	rows, err := s.backend.Query(ctx, PathIndex, kvstore.WithIncludeAttachments(cfg.payloads))
	if err != nil {
		return nil, newError(ErrStorage, "", err)
	}
	entries = []*Entry{}
	for _, row := range rows {
		if row.Doc == nil || !s.inNamespace(row.ID) {
			continue
		}
		entries = append(entries, s.layout.fromDocument(row.Doc))
	}
	return entries, nil
}

// ListAllPaths returns the path of every entry in the same order as ListAllFiles.
func (s *Storage) ListAllPaths(ctx context.Context) (paths []string, err error) {
	defer s.metrics.observe("list", time.Now(), &err)
	return s.allPaths(ctx)
}

func (s *Storage) allPaths(ctx context.Context) ([]string, error) {
	rows, err := s.backend.Query(ctx, PathIndex, kvstore.WithIncludeDocs(false))
	if err != nil {
		return nil, newError(ErrStorage, "", err)
	}
	paths := []string{}
	for _, row := range rows {
		if s.inNamespace(row.ID) {
			paths = append(paths, s.layout.Join(row.Key))
		}
	}
	return paths, nil
}

// ListAllFilesOnAPath returns the immediate children of dirPath ordered by path. An empty dirPath
// lists the root level entries. Listing a path without children returns an empty list.
func (s *Storage) ListAllFilesOnAPath(ctx context.Context, dirPath string, opts ...ListOpt) (entries []*Entry, err error) {
	defer s.metrics.observe("list", time.Now(), &err)
	cfg := &listConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	elements := s.layout.Elements(dirPath)
	docs, err := s.children(ctx, elements, cfg.payloads)
	if err != nil {
		return nil, newError(ErrStorage, s.layout.Join(elements), err)
	}
	entries = make([]*Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, s.layout.fromDocument(doc))
	}
	return entries, nil
}

// ListAllPathsOnAPath returns the paths of the immediate children of dirPath.
func (s *Storage) ListAllPathsOnAPath(ctx context.Context, dirPath string) ([]string, error) {
	entries, err := s.ListAllFilesOnAPath(ctx, dirPath)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	return paths, nil
}

// ListTree returns the entry at entryPath followed by all of its descendants ordered by path,
// without payloads. An empty entryPath returns every entry.
func (s *Storage) ListTree(ctx context.Context, entryPath string) (entries []*Entry, err error) {
	defer s.metrics.observe("list", time.Now(), &err)
	elements := s.layout.Elements(entryPath)
	p := s.layout.Join(elements)
	docs, err := s.subtree(ctx, elements)
	if err != nil {
		return nil, newError(ErrStorage, p, err)
	}
	if len(elements) > 0 && len(docs) == 0 {
		return nil, newError(ErrFileNotFound, p, nil)
	}
	entries = make([]*Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, s.layout.fromDocument(doc))
	}
	return entries, nil
}

func (s *Storage) inNamespace(id string) bool {
	return strings.HasPrefix(id, s.layout.namespace())
}
