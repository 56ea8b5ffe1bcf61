package index

import (
	"strings"
	"sync"
)

// HashIndex provides O(1) average-case lookups for key locations. It is
// purely in memory; a blob store rebuilds it from the log on startup.
type HashIndex struct {
	entries map[string]Entry
	mutex   sync.RWMutex
}

var _ Index = (*HashIndex)(nil)

// NewHashIndex creates an empty hash index.
func NewHashIndex() *HashIndex {
	return &HashIndex{
		entries: make(map[string]Entry),
	}
}

// Put adds or updates the location of a key.
func (idx *HashIndex) Put(key []byte, entry Entry) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	idx.entries[string(key)] = entry
	return nil
}

// Get retrieves the location of a key.
func (idx *HashIndex) Get(key []byte) (Entry, bool, error) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	entry, exists := idx.entries[string(key)]
	return entry, exists, nil
}

// Delete removes a key from the index.
func (idx *HashIndex) Delete(key []byte) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	delete(idx.entries, string(key))
	return nil
}

// Size returns the number of keys in the index.
func (idx *HashIndex) Size() (int, error) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	return len(idx.entries), nil
}

// Clear removes all entries from the index.
func (idx *HashIndex) Clear() {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	idx.entries = make(map[string]Entry)
}

// Keys returns all keys in the index.
func (idx *HashIndex) Keys() ([][]byte, error) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	keys := make([][]byte, 0, len(idx.entries))
	for key := range idx.entries {
		keys = append(keys, []byte(key))
	}
	return keys, nil
}

// KeysWithPrefix returns all keys that start with the given prefix.
func (idx *HashIndex) KeysWithPrefix(prefix string) []string {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	var keys []string
	for key := range idx.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Close is a no-op; the index holds no resources.
func (idx *HashIndex) Close() error {
	return nil
}
