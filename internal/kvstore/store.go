package kvstore

import (
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Store is a thin typed facade over an embedded ordered key-value store
// (Badger, an LSM-tree engine) providing atomic point writes, point reads,
// and forward prefix iteration. One Store instance owns one on-disk
// directory and is the sole writer to it, per the single-writer-per-actor
// discipline of the concurrency model.
type Store struct {
	db     *badger.DB
	path   string
	logger *zap.Logger
}

// Open opens (creating if absent) a Badger database rooted at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, &StoreOpenError{Path: path, Err: err}
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &StoreOpenError{Path: path, Err: err}
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

// StoreOpenError wraps a failure to open the underlying database directory.
type StoreOpenError struct {
	Path string
	Err  error
}

func (e *StoreOpenError) Error() string { return "opening store at " + e.Path + ": " + e.Err.Error() }
func (e *StoreOpenError) Unwrap() error { return e.Err }

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes a single key atomically.
func (s *Store) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// PutBatch writes multiple key/value pairs as a single atomic transaction,
// used by the contract processor's two-phase batch handler so an entire
// block's mutations either all land or none do.
func (s *Store) PutBatch(writes []KV, deletes [][]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, w := range writes {
			if err := txn.Set(w.Key, w.Value); err != nil {
				return err
			}
		}
		for _, k := range deletes {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// KV is a key/value pair for batched writes.
type KV struct {
	Key   []byte
	Value []byte
}

// Get performs a point read. ok is false if the key is absent.
func (s *Store) Get(key []byte) (value []byte, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(key)
		if getErr == badger.ErrKeyNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		ok = true
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	return value, ok, err
}

// Delete removes a single key. Deleting an absent key is not an error.
func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// PrefixScan iterates every key with the given prefix in ascending
// lexicographic order, invoking fn with a copy of the key (prefix included)
// and value. Iteration stops early if fn returns an error, which is
// propagated to the caller.
func (s *Store) PrefixScan(prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := append([]byte(nil), item.Key()...)
			var value []byte
			if err := item.Value(func(v []byte) error {
				value = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// DropAll empties the database in place without closing the underlying
// file handles, used by the contract processor to "drop and recreate" its
// database at the start of a state rebuild.
func (s *Store) DropAll() error {
	return s.db.DropAll()
}
