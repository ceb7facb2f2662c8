// Package utils provides the on-disk metadata store and cached avatar
// downloads.
package utils

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/sudorandom/floortrack/pkg/tracking"
)

// MetaStore persists tracker metadata across runs so names, device ids and
// avatar URLs survive a restart before the first snapshot lands.
type MetaStore struct {
	db *badger.DB
}

func OpenMetaStore(path string) (*MetaStore, error) {
	opts := badger.DefaultOptions(path)
	// Decrease logging verbosity
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &MetaStore{db: db}, nil
}

func (s *MetaStore) Close() error {
	return s.db.Close()
}

func (s *MetaStore) Put(entityID string, meta tracking.TrackerMetadata) error {
	val, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(entityID), val)
	})
}

func (s *MetaStore) PutAll(entries map[string]tracking.TrackerMetadata) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for id, meta := range entries {
		val, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(id), val); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *MetaStore) Get(entityID string) (tracking.TrackerMetadata, bool, error) {
	var meta tracking.TrackerMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(entityID))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &meta)
		})
	})
	if err == badger.ErrKeyNotFound {
		return meta, false, nil
	}
	if err != nil {
		return meta, false, err
	}
	return meta, true, nil
}

// All loads every persisted entry. Records that no longer unmarshal are
// skipped rather than failing the whole load.
func (s *MetaStore) All() (map[string]tracking.TrackerMetadata, error) {
	out := make(map[string]tracking.TrackerMetadata)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(item.Key())
			err := item.Value(func(v []byte) error {
				var meta tracking.TrackerMetadata
				if json.Unmarshal(v, &meta) == nil {
					out[id] = meta
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
