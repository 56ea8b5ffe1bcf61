package index

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// PebbleIndex keeps key locations in a pebble database so a blob store can
// reopen without rescanning its logs. Writes use pebble.NoSync: the index
// is a cache over the log, which remains the source of truth, so losing
// the last few index updates in a crash only costs a rebuild.
type PebbleIndex struct {
	db *pebble.DB
}

var _ Index = (*PebbleIndex)(nil)

// OpenPebbleIndex opens (or creates) the index database at path.
func OpenPebbleIndex(path string) (*PebbleIndex, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleIndex{db: db}, nil
}

// Put adds or updates the location of a key.
func (idx *PebbleIndex) Put(key []byte, entry Entry) error {
	return idx.db.Set(key, encodeEntry(entry), pebble.NoSync)
}

// Get retrieves the location of a key.
func (idx *PebbleIndex) Get(key []byte) (Entry, bool, error) {
	data, closer, err := idx.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	defer closer.Close()

	entry, ok := decodeEntry(data)
	if !ok {
		return Entry{}, false, errors.Newf("index: malformed entry for key %q", key)
	}
	return entry, true, nil
}

// Delete removes a key from the index.
func (idx *PebbleIndex) Delete(key []byte) error {
	return idx.db.Delete(key, pebble.NoSync)
}

// Size returns the number of keys in the index.
func (idx *PebbleIndex) Size() (int, error) {
	iter, err := idx.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, iter.Error()
}

// Keys returns all keys in the index in lexicographic order.
func (idx *PebbleIndex) Keys() ([][]byte, error) {
	iter, err := idx.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	return keys, iter.Error()
}

// Close closes the underlying database.
func (idx *PebbleIndex) Close() error {
	return idx.db.Close()
}
