// Package store implements a Bitcask-style blob store on top of a single
// blob log: all writes append to the log, an index maps keys to log
// offsets, and opening the store replays the log to recover from crashes.
package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"

	"github.com/munindb/munin/pkg/blobfmt"
	"github.com/munindb/munin/pkg/bloblog"
	"github.com/munindb/munin/pkg/index"
)

// BlobStore is a key-value store whose values live in an append-only blob
// log. Deletes are tombstones (zero-length blobs); the last record for a
// key wins. A sealed log is read-only.
type BlobStore struct {
	config  BlobStoreConfig
	logPath string

	writer   *bloblog.Writer
	readFile *os.File
	index    index.Index

	mutex  sync.Mutex
	isOpen bool
	sealed bool
	dirty  bool
	seq    uint64
}

// NewBlobStore prepares a store over the blob log in config.DataDir. The
// newest existing log file is adopted; an empty directory gets a fresh,
// uniquely named one. Call Open before use.
func NewBlobStore(config BlobStoreConfig) (*BlobStore, error) {
	config.ensureDefaults()

	if err := os.MkdirAll(config.DataDir, 0750); err != nil {
		return nil, err
	}
	logPath, err := activeLogPath(config.DataDir)
	if err != nil {
		return nil, err
	}

	return &BlobStore{
		config:  config,
		logPath: logPath,
	}, nil
}

// activeLogPath returns the newest *.blob file in dir, or a fresh ksuid
// name when none exists. KSUIDs sort by creation time, so lexicographic
// order is age order.
func activeLogPath(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.blob"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return filepath.Join(dir, ksuid.New().String()+".blob"), nil
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// Open replays the blob log, truncating any torn tail, rebuilds the key
// index, and readies the store for reads and (unless the log is sealed)
// writes.
func (s *BlobStore) Open() (*RecoveryResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isOpen {
		return &RecoveryResult{}, nil
	}

	idx, err := s.openIndex()
	if err != nil {
		return nil, err
	}
	s.index = idx

	result, err := s.recover()
	if err != nil {
		s.index.Close()
		return nil, err
	}
	s.sealed = result.Sealed

	if !s.sealed {
		writer, err := bloblog.NewWriter(bloblog.WriterConfig{
			FilePath:      s.logPath,
			BlockSize:     s.config.BlockSize,
			FsyncInterval: s.config.FsyncInterval,
			Logger:        s.config.Logger,
			Metrics:       s.config.Metrics,
		})
		if err != nil {
			s.index.Close()
			return nil, err
		}
		s.writer = writer
	}

	readFile, err := os.Open(s.logPath)
	if err != nil {
		if s.writer != nil {
			s.writer.Close()
		}
		s.index.Close()
		return nil, err
	}
	s.readFile = readFile

	live, err := s.index.Size()
	if err != nil {
		s.closeLocked()
		return nil, err
	}
	result.LiveKeys = live

	s.isOpen = true
	s.config.Logger.Infof("opened blob store at %s: %d live keys, %d entries replayed, sealed=%v",
		s.logPath, live, result.EntriesScanned, s.sealed)
	return result, nil
}

func (s *BlobStore) openIndex() (index.Index, error) {
	if s.config.IndexPath == "" {
		return index.NewHashIndex(), nil
	}
	return index.OpenPebbleIndex(s.config.IndexPath)
}

// recover scans the log, populating the index with the last record for
// each key and dropping tombstoned keys. A torn tail is cut off so the
// next writer appends to a well-formed log.
func (s *BlobStore) recover() (*RecoveryResult, error) {
	start := time.Now()
	result := &RecoveryResult{}

	stat, err := os.Stat(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			result.RecoveryTime = time.Since(start)
			return result, nil
		}
		return nil, err
	}
	sizeBefore := stat.Size()

	reader, err := bloblog.OpenFileReader(s.logPath, bloblog.ReaderOptions{
		BlockSize: s.config.BlockSize,
		Resync:    s.config.Resync,
		Logger:    s.config.Logger,
		Metrics:   s.config.Metrics,
	})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	for {
		entry, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			result.CorruptionEvents++
			s.config.Logger.Errorf("replay of %s: %v", s.logPath, err)
			continue
		}
		result.EntriesScanned++
		if len(entry.Blob) == 0 {
			result.Tombstones++
			if err := s.index.Delete(entry.Key); err != nil {
				return nil, err
			}
			continue
		}
		ttl := entry.TTL
		if err := s.index.Put(entry.Key, index.Entry{
			Offset: entry.Offset,
			Size:   uint32(len(entry.Blob)),
			TTL:    ttl,
		}); err != nil {
			return nil, err
		}
	}

	result.Sealed = reader.Sealed()
	s.seq = reader.EntryCount()

	if !result.Sealed && reader.LastGoodOffset() < sizeBefore {
		result.TruncatedBytes = sizeBefore - reader.LastGoodOffset()
		s.config.Logger.Errorf("truncating %d torn bytes off %s at offset %d",
			result.TruncatedBytes, s.logPath, reader.LastGoodOffset())
		if err := os.Truncate(s.logPath, reader.LastGoodOffset()); err != nil {
			return nil, err
		}
	}

	for _, w := range reader.Warnings() {
		s.config.Logger.Errorf("replay of %s: %s", s.logPath, w)
	}

	result.RecoveryTime = time.Since(start)
	return result, nil
}

// Put stores a key-value pair.
func (s *BlobStore) Put(key, value []byte) error {
	return s.put(key, value, bloblog.AppendOptions{
		Timestamp: uint64(time.Now().Unix()),
	}, blobfmt.NoTTL)
}

// PutWithTTL stores a key-value pair that expires at the given absolute
// Unix time.
func (s *BlobStore) PutWithTTL(key, value []byte, expiresAt uint64) error {
	return s.put(key, value, bloblog.AppendOptions{
		TTL: expiresAt,
	}, expiresAt)
}

func (s *BlobStore) put(key, value []byte, opts bloblog.AppendOptions, ttl uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return ErrNotOpen
	}
	if s.sealed {
		return ErrSealed
	}
	if len(key) == 0 {
		return ErrInvalidKey
	}
	if len(value) == 0 {
		return errors.Wrap(ErrInvalidKey, "empty values are reserved for tombstones")
	}

	opts.SeqNum = s.seq
	offset, err := s.writer.Append(key, value, opts)
	if err != nil {
		return err
	}
	s.seq++
	s.dirty = true

	return s.index.Put(key, index.Entry{
		Offset: offset,
		Size:   uint32(len(value)),
		TTL:    ttl,
	})
}

// Get retrieves the value for a key. Expired and deleted keys report
// ErrKeyNotFound.
func (s *BlobStore) Get(key []byte) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil, ErrNotOpen
	}
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}

	entry, found, err := s.index.Get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	if entry.TTL != blobfmt.NoTTL && entry.TTL <= uint64(time.Now().Unix()) {
		return nil, errors.Wrap(ErrKeyNotFound, "key expired")
	}

	logEntry, err := s.readEntryLocked(entry.Offset)
	if err != nil {
		return nil, err
	}
	if len(logEntry.Blob) == 0 {
		return nil, ErrKeyNotFound
	}
	return logEntry.Blob, nil
}

// readEntryLocked reads one logical entry straight from the log. Buffered
// appends are flushed first so the read sees them.
func (s *BlobStore) readEntryLocked(offset int64) (*bloblog.Entry, error) {
	size := int64(0)
	if s.writer != nil {
		if s.dirty {
			if err := s.writer.Sync(); err != nil {
				return nil, err
			}
			s.dirty = false
		}
		size = s.writer.Size()
	} else {
		stat, err := s.readFile.Stat()
		if err != nil {
			return nil, err
		}
		size = stat.Size()
	}

	reader := bloblog.NewReader(s.readFile, size, bloblog.ReaderOptions{
		BlockSize: s.config.BlockSize,
		Logger:    s.config.Logger,
		Metrics:   s.config.Metrics,
	})
	return reader.ReadEntryAt(offset)
}

// Delete removes a key by appending a tombstone.
func (s *BlobStore) Delete(key []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return ErrNotOpen
	}
	if s.sealed {
		return ErrSealed
	}
	if len(key) == 0 {
		return ErrInvalidKey
	}

	_, found, err := s.index.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return ErrKeyNotFound
	}

	if _, err := s.writer.Append(key, nil, bloblog.AppendOptions{
		Timestamp: uint64(time.Now().Unix()),
		SeqNum:    s.seq,
	}); err != nil {
		return err
	}
	s.seq++
	s.dirty = true

	return s.index.Delete(key)
}

// ListKeys returns all live keys with the given prefix; a nil prefix
// matches everything.
func (s *BlobStore) ListKeys(prefix []byte) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil, ErrNotOpen
	}

	all, err := s.index.Keys()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if bytes.HasPrefix(k, prefix) {
			keys = append(keys, string(k))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Seal flushes the log and writes its footer. The store becomes read-only.
func (s *BlobStore) Seal() (*blobfmt.Footer, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil, ErrNotOpen
	}
	if s.sealed {
		return nil, ErrSealed
	}

	footer, err := s.writer.Seal()
	if err != nil {
		return nil, err
	}
	s.sealed = true
	s.dirty = false
	s.config.Logger.Infof("sealed %s: %s", s.logPath, footer)
	return footer, nil
}

// Stats returns store statistics.
func (s *BlobStore) Stats() (*StoreStats, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil, ErrNotOpen
	}

	keys, err := s.index.Size()
	if err != nil {
		return nil, err
	}
	size := int64(0)
	if s.writer != nil {
		size = s.writer.Size()
	} else if stat, err := s.readFile.Stat(); err == nil {
		size = stat.Size()
	}
	return &StoreStats{
		Keys:     keys,
		DataSize: size,
		Sealed:   s.sealed,
	}, nil
}

// LogPath returns the path of the active blob log.
func (s *BlobStore) LogPath() string {
	return s.logPath
}

// Close flushes and closes the log and the index.
func (s *BlobStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil
	}
	s.isOpen = false
	return s.closeLocked()
}

func (s *BlobStore) closeLocked() error {
	var firstErr error
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			firstErr = err
		}
		s.writer = nil
	}
	if s.readFile != nil {
		if err := s.readFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.readFile = nil
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.index = nil
	}
	return firstErr
}
