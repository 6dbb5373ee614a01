package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Local documents hold per-database bookkeeping. They have no revisions, are never returned by
// AllDocs or Query, and are not replicated if the database is ever copied document by document.

func localKey(id string) []byte {
	return []byte(localPrefix + id)
}

// GetLocal decodes the local document id into v. It returns ErrDocNotFound if it does not exist.
func (s *DocStore[T]) GetLocal(ctx context.Context, id string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(localKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrDocNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return unmarshal(val, v)
		})
	})
}

// PutLocal writes the local document id, replacing any existing value.
func (s *DocStore[T]) PutLocal(ctx context.Context, id string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}
	encoded, err := marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(localKey(id), encoded)
	})
}

// PutLocalIfAbsent writes the local document id only if it does not exist yet. It returns true if
// this call created the document. When several callers race exactly one of them wins.
func (s *DocStore[T]) PutLocalIfAbsent(ctx context.Context, id string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateID(id); err != nil {
		return false, err
	}
	encoded, err := marshal(v)
	if err != nil {
		return false, err
	}
	for attempt := 1; ; attempt++ {
		created := false
		err := s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(localKey(id))
			if err == nil {
				return nil
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			created = true
			return txn.Set(localKey(id), encoded)
		})
		// Losing the race means another caller created it first. Check again.
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("unable to write local document %s: %w", id, err)
		}
		return created, nil
	}
}
