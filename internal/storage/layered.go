package storage

import (
	"bytes"
	"errors"
	"io"
)

// NewLayeredStorage creates a storage that reads from the front storage first and falls back to the
// back storage. Records found in the back storage are copied to the front storage.
// Writes go to both layers.
func NewLayeredStorage(front Storage, back Storage) Storage {
	return &layeredStorage{
		front: front,
		back:  back,
	}
}

type layeredStorage struct {
	front Storage
	back  Storage
}

func (l *layeredStorage) Stat(key string) (stat Stat, err error) {
	stat, err = l.front.Stat(key)
	if err == ErrNotFound {
		stat, err = l.back.Stat(key)
	}
	return
}

func (l *layeredStorage) Get(key string) (io.ReadCloser, Stat, error) {
	content, stat, err := l.front.Get(key)
	if err != ErrNotFound {
		return content, stat, err
	}
	data, err := ReadAll(l.back, key)
	if err != nil {
		return nil, nil, err
	}
	if err := l.front.Put(key, bytes.NewReader(data)); err != nil {
		log.Warnf("layered storage: copy %s: %v", key, err)
	}
	stat, err = l.back.Stat(key)
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), stat, nil
}

func (l *layeredStorage) List(prefix string) (keys []string, err error) {
	return nil, errors.New("List operation is not supported in layered storage")
}

func (l *layeredStorage) Put(key string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	if err := l.back.Put(key, bytes.NewReader(data)); err != nil {
		return err
	}
	return l.front.Put(key, bytes.NewReader(data))
}

func (l *layeredStorage) Delete(key string) error {
	l.back.Delete(key)
	return l.front.Delete(key)
}

func (l *layeredStorage) DeleteAll(prefix string) (deletedKeys []string, err error) {
	l.back.DeleteAll(prefix)
	return l.front.DeleteAll(prefix)
}
