package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// IndexFunc derives zero or more secondary keys from a document. Each key is a sequence of string
// elements. Keys are ordered element by element, so a key always sorts before every key it is a
// strict prefix of. Empty keys are ignored.
type IndexFunc[T any] func(id string, value T) [][]string

// Row is a single match returned by Query.
type Row[T any] struct {
	Key []string
	ID  string
	// Nil when the query was run WithIncludeDocs(false).
	Doc *Document[T]
}

// Index keys are encoded so byte-wise order equals element-wise order:
//
//   - NUL bytes inside an element are escaped as 0x00 0xFF.
//   - Elements are separated by 0x00 0x01.
//   - The key is terminated by 0x00 0x00.
const (
	escByte  = 0x00
	escNul   = 0xFF
	sepByte  = 0x01
	termByte = 0x00
)

func appendEscaped(dst []byte, elem string) []byte {
	for i := 0; i < len(elem); i++ {
		if elem[i] == escByte {
			dst = append(dst, escByte, escNul)
			continue
		}
		dst = append(dst, elem[i])
	}
	return dst
}

// appendIndexKey appends the encoding of key to dst.
func appendIndexKey(dst []byte, key []string) []byte {
	for i, elem := range key {
		if i > 0 {
			dst = append(dst, escByte, sepByte)
		}
		dst = appendEscaped(dst, elem)
	}
	return append(dst, escByte, termByte)
}

// appendIndexKeyPrefix appends an encoding that matches every key with at least one element
// beyond prefix.
func appendIndexKeyPrefix(dst []byte, prefix []string) []byte {
	for _, elem := range prefix {
		dst = appendEscaped(dst, elem)
		dst = append(dst, escByte, sepByte)
	}
	return dst
}

// decodeIndexKey parses a key produced by appendIndexKey and returns the remaining bytes.
func decodeIndexKey(b []byte) ([]string, []byte, error) {
	var (
		key  []string
		elem []byte
	)
	for i := 0; i < len(b); i++ {
		if b[i] != escByte {
			elem = append(elem, b[i])
			continue
		}
		if i+1 >= len(b) {
			break
		}
		i++
		switch b[i] {
		case escNul:
			elem = append(elem, escByte)
		case sepByte:
			key = append(key, string(elem))
			elem = elem[:0]
		case termByte:
			key = append(key, string(elem))
			return key, b[i+1:], nil
		default:
			return nil, nil, fmt.Errorf("invalid escape sequence in index key at offset %d", i)
		}
	}
	return nil, nil, fmt.Errorf("index key is not terminated")
}

func indexNamePrefix(name string) []byte {
	return []byte(indexPrefix + name + "\x00")
}

func indexEntryKey(name string, key []string, id string) []byte {
	k := appendIndexKey(indexNamePrefix(name), key)
	return append(k, id...)
}

func indexMarkerKey(name string) []byte {
	return []byte(metaPrefix + "index/" + name)
}

func validateIndexName(name string) error {
	if name == "" || strings.IndexByte(name, 0) != -1 {
		return fmt.Errorf("index names must not be empty or contain NUL bytes")
	}
	return nil
}

// DefineIndex registers fn under name. Index entries are maintained by every subsequent write in
// the same transaction as the document. If the index was never built for this database, or was
// invalidated because documents were written while it was not registered, it is rebuilt from the
// existing documents before DefineIndex returns.
func (s *DocStore[T]) DefineIndex(ctx context.Context, name string, fn IndexFunc[T]) error {
	if err := validateIndexName(name); err != nil {
		return err
	}
	s.mu.Lock()
	s.indexes[name] = fn
	built := s.built[name]
	s.mu.Unlock()
	if built {
		s.log.Debug("index already built", zap.String("index", name))
		return nil
	}
	return s.buildIndex(ctx, name, fn)
}

func (s *DocStore[T]) buildIndex(ctx context.Context, name string, fn IndexFunc[T]) error {
	log := s.log.With(zap.String("index", name))
	log.Debug("building index")

	if err := s.db.DropPrefix(indexNamePrefix(name)); err != nil {
		return fmt.Errorf("unable to clear stale entries for index %s: %w", name, err)
	}

	ids := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(docPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(docPrefix):]))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for start := 0; start < len(ids); start += s.config.indexBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := ids[start:min(start+s.config.indexBatchSize, len(ids))]
		for attempt := 1; ; attempt++ {
			err = s.db.Update(func(txn *badger.Txn) error {
				for _, id := range batch {
					rec, err := readRecord(txn, id)
					if errors.Is(err, ErrDocNotFound) {
						continue
					} else if err != nil {
						return err
					}
					if rec.Deleted {
						continue
					}
					var value T
					if err := unmarshal(rec.Value, &value); err != nil {
						return fmt.Errorf("unable to decode document %s: %w", id, err)
					}
					for _, key := range fn(id, value) {
						if len(key) == 0 {
							continue
						}
						if err := txn.Set(indexEntryKey(name, key, id), []byte(id)); err != nil {
							return err
						}
					}
				}
				return nil
			})
			// A concurrent writer touched one of the documents in this batch. Its own index
			// maintenance may have raced with ours so simply redo the batch.
			if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
				log.Debug("retrying index batch after conflict", zap.Int("attempt", attempt))
				continue
			}
			break
		}
		if err != nil {
			return fmt.Errorf("unable to build index %s: %w", name, err)
		}
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexMarkerKey(name), []byte{1})
	}); err != nil {
		return err
	}
	s.mu.Lock()
	s.built[name] = true
	s.mu.Unlock()
	log.Debug("finished building index", zap.Int("documents", len(ids)))
	return nil
}

// updateIndexes replaces the index entries derived from oldValue with those derived from
// newValue. Either may be nil. It returns the names of indexes whose built marker was removed
// because they are not registered in this process.
func (s *DocStore[T]) updateIndexes(txn *badger.Txn, id string, oldValue, newValue *T) ([]string, error) {
	s.mu.RLock()
	indexes := make(map[string]IndexFunc[T], len(s.indexes))
	for name, fn := range s.indexes {
		indexes[name] = fn
	}
	orphaned := []string{}
	for name := range s.built {
		if _, ok := s.indexes[name]; !ok {
			orphaned = append(orphaned, name)
		}
	}
	s.mu.RUnlock()

	for name, fn := range indexes {
		var oldKeys, newKeys [][]string
		if oldValue != nil {
			oldKeys = fn(id, *oldValue)
		}
		if newValue != nil {
			newKeys = fn(id, *newValue)
		}
		keep := make(map[string]struct{}, len(newKeys))
		for _, key := range newKeys {
			if len(key) == 0 {
				continue
			}
			entry := indexEntryKey(name, key, id)
			keep[string(entry)] = struct{}{}
			if err := txn.Set(entry, []byte(id)); err != nil {
				return nil, err
			}
		}
		for _, key := range oldKeys {
			if len(key) == 0 {
				continue
			}
			entry := indexEntryKey(name, key, id)
			if _, ok := keep[string(entry)]; ok {
				continue
			}
			if err := txn.Delete(entry); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range orphaned {
		if err := txn.Delete(indexMarkerKey(name)); err != nil {
			return nil, err
		}
	}
	return orphaned, nil
}

func (s *DocStore[T]) forgetIndexes(names []string) {
	if len(names) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		delete(s.built, name)
		s.log.Debug("invalidated index that is not registered", zap.String("index", name))
	}
}

// Query returns the rows of the named index ordered by key (then document ID). Use WithKey for an
// exact match or WithKeyPrefix to return every key that extends the given elements. By default the
// matching documents are included without attachment data.
func (s *DocStore[T]) Query(ctx context.Context, index string, opts ...QueryOpt) ([]*Row[T], error) {
	cfg := newQueryConfig(opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	_, defined := s.indexes[index]
	s.mu.RUnlock()
	if !defined {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotDefined, index)
	}

	namePrefix := indexNamePrefix(index)
	seek := bytes.Clone(namePrefix)
	if cfg.key != nil {
		seek = appendIndexKey(seek, cfg.key)
	} else if cfg.keyPrefix != nil {
		seek = appendIndexKeyPrefix(seek, cfg.keyPrefix)
	}

	rows := []*Row[T]{}
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = seek
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if cfg.limit > 0 && len(rows) >= cfg.limit {
				return nil
			}
			item := it.Item()
			key, _, err := decodeIndexKey(item.Key()[len(namePrefix):])
			if err != nil {
				return fmt.Errorf("corrupt entry in index %s: %w", index, err)
			}
			idBytes, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			row := &Row[T]{Key: key, ID: string(idBytes)}
			if cfg.includeDocs {
				rec, err := readRecord(txn, row.ID)
				if errors.Is(err, ErrDocNotFound) {
					continue
				} else if err != nil {
					return err
				}
				if rec.Deleted {
					continue
				}
				row.Doc, err = s.decodeRecord(txn, row.ID, rec, cfg.attachments)
				if err != nil {
					return err
				}
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cfg.includeDocs && cfg.attachments {
		for _, row := range rows {
			if err := s.loadExternalAttachments(ctx, row.Doc); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}
