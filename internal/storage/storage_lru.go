package storage

import (
	"io"
	"time"

	"github.com/dgraph-io/ristretto"
)

// NewLRUStorage bounds the total size of the records kept by the backing storage.
// Records evicted from the cache are removed from the backing storage, readers see them as missing.
func NewLRUStorage(backing Storage, maxBytes int64) (*LRUStorage, error) {
	s := &LRUStorage{backing: backing}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     maxBytes,
		BufferItems: 64,
		// OnExit is called on replacement as well, which would remove freshly written records.
		// Records rejected by the admission policy are kept untracked.
		OnEvict: func(item *ristretto.Item) {
			s.remove(item.Value.(*lruEntry), "evict")
		},
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache

	keys, err := backing.List("")
	if err != nil {
		cache.Close()
		return nil, err
	}
	for _, key := range keys {
		stat, err := backing.Stat(key)
		if err != nil {
			continue
		}
		cache.Set(key, &lruEntry{key: key, modtime: stat.ModTime()}, stat.Size())
	}
	cache.Wait()
	log.Debugf("lru storage hydrated with %d records, maxBytes %d", len(keys), maxBytes)
	return s, nil
}

type LRUStorage struct {
	backing Storage
	cache   *ristretto.Cache
}

type lruEntry struct {
	key     string
	modtime time.Time
}

func (s *LRUStorage) remove(entry *lruEntry, reason string) {
	// skip records rewritten after the entry was tracked
	if stat, err := s.backing.Stat(entry.key); err == nil && stat.ModTime().After(entry.modtime) {
		return
	}
	log.Debugf("lru storage %s %s", reason, entry.key)
	s.backing.Delete(entry.key)
}

func (s *LRUStorage) Stat(key string) (Stat, error) {
	return s.backing.Stat(key)
}

func (s *LRUStorage) Get(key string) (io.ReadCloser, Stat, error) {
	s.cache.Get(key)
	return s.backing.Get(key)
}

func (s *LRUStorage) List(prefix string) ([]string, error) {
	return s.backing.List(prefix)
}

func (s *LRUStorage) Put(key string, content io.Reader) error {
	if err := s.backing.Put(key, content); err != nil {
		return err
	}
	stat, err := s.backing.Stat(key)
	if err != nil {
		return err
	}
	s.cache.Set(key, &lruEntry{key: key, modtime: stat.ModTime()}, stat.Size())
	return nil
}

func (s *LRUStorage) Delete(key string) error {
	s.cache.Del(key)
	return s.backing.Delete(key)
}

func (s *LRUStorage) DeleteAll(prefix string) ([]string, error) {
	keys, err := s.backing.DeleteAll(prefix)
	for _, key := range keys {
		s.cache.Del(key)
	}
	return keys, err
}

// Wait blocks until the buffered cache writes are applied.
func (s *LRUStorage) Wait() {
	s.cache.Wait()
}

func (s *LRUStorage) Close() {
	s.cache.Close()
}
