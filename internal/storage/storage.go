package storage

import (
	"errors"
	"io"
	"time"

	logx "github.com/ije/gox/log"
)

var log = &logx.Logger{}

var (
	ErrNotFound = errors.New("record not found")
)

// Stat is the metadata of a stored record.
type Stat interface {
	Size() int64
	ModTime() time.Time
}

// Storage is a flat key-value store for build artifacts. Keys are slash-separated paths.
type Storage interface {
	Stat(key string) (stat Stat, err error)
	Get(key string) (content io.ReadCloser, stat Stat, err error)
	List(prefix string) (keys []string, err error)
	Put(key string, r io.Reader) error
	Delete(key string) error
	DeleteAll(prefix string) (deletedKeys []string, err error)
}

type StorageOptions struct {
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
	// MaxBytes bounds the total size of the stored records, zero means unbounded.
	MaxBytes int64 `json:"maxBytes"`
}

// New opens the storage described by the options.
func New(options *StorageOptions) (Storage, error) {
	switch options.Type {
	case "", "fs":
		fs, err := NewFSStorage(options)
		if err != nil {
			return nil, err
		}
		if options.MaxBytes > 0 {
			return NewLRUStorage(fs, options.MaxBytes)
		}
		return fs, nil
	default:
		return nil, errors.New("unsupported storage type: " + options.Type)
	}
}

// ReadAll reads the whole record of the given key.
func ReadAll(s Storage, key string) ([]byte, error) {
	r, _, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func SetLogger(logger *logx.Logger) {
	log = logger
}
