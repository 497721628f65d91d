package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ije/gox/utils"
)

const tempFilePrefix = ".tmp-"

// NewFSStorage creates a storage that keeps records as files under the endpoint directory.
func NewFSStorage(options *StorageOptions) (*FSStorage, error) {
	if options.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	root, err := filepath.Abs(options.Endpoint)
	if err != nil {
		return nil, err
	}
	if err := ensureDir(root); err != nil {
		return nil, err
	}
	return &FSStorage{root: root}, nil
}

// FSStorage implements the Storage interface on the local filesystem.
// Writes are atomic: a record is either absent, the old version or the new version.
type FSStorage struct {
	root string
}

// Root returns the absolute root directory of the storage.
func (fs *FSStorage) Root() string {
	return fs.root
}

// join resolves the key and rejects paths escaping the root.
func (fs *FSStorage) join(key string) (string, error) {
	filename, err := filepath.Abs(filepath.Join(fs.root, filepath.FromSlash(key)))
	if err != nil {
		return "", err
	}
	if filename != fs.root && !strings.HasPrefix(filename, fs.root+string(os.PathSeparator)) {
		return "", errors.New("invalid file path")
	}
	return filename, nil
}

func (fs *FSStorage) Stat(key string) (Stat, error) {
	filename, err := fs.join(key)
	if err != nil {
		return nil, ErrNotFound
	}
	fi, err := os.Lstat(filename)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if fi.IsDir() {
		return nil, ErrNotFound
	}
	return fi, nil
}

func (fs *FSStorage) Get(key string) (io.ReadCloser, Stat, error) {
	filename, err := fs.join(key)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	file, err := os.Open(filename)
	if err != nil {
		if isNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	if stat.IsDir() {
		file.Close()
		return nil, nil, ErrNotFound
	}
	return file, stat, nil
}

func (fs *FSStorage) List(prefix string) ([]string, error) {
	dir := strings.TrimSuffix(utils.NormalizePathname(prefix)[1:], "/")
	absDir, err := fs.join(dir)
	if err != nil {
		return nil, err
	}
	return findFiles(absDir, dir)
}

// Put writes the content to a temporary file next to the target and renames it into place.
func (fs *FSStorage) Put(key string, content io.Reader) error {
	filename, err := fs.join(key)
	if err != nil || filename == fs.root {
		return errors.New("invalid file path")
	}

	dir := filepath.Dir(filename)
	if err := ensureDir(dir); err != nil {
		return err
	}

	file, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return err
	}
	tmpName := file.Name()

	_, err = io.Copy(file, content)
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, filename)
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (fs *FSStorage) Delete(key string) error {
	filename, err := fs.join(key)
	if err != nil {
		return ErrNotFound
	}
	err = os.Remove(filename)
	if err != nil && isNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (fs *FSStorage) DeleteAll(prefix string) ([]string, error) {
	dir := strings.TrimSuffix(utils.NormalizePathname(prefix)[1:], "/")
	if dir == "" {
		return nil, errors.New("prefix is required")
	}

	absDir, err := fs.join(dir)
	if err != nil {
		return nil, ErrNotFound
	}

	keys, err := fs.List(prefix)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(absDir); err != nil {
		return nil, err
	}
	return keys, nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.HasSuffix(err.Error(), "not a directory")
}

// ensureDir ensures the given directory exists.
func ensureDir(dir string) error {
	_, err := os.Lstat(dir)
	if err != nil && os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return err
}

// findFiles returns the keys of the records in the given directory, leftover temporary files are skipped.
func findFiles(root string, parentDir string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, tempFilePrefix) {
			continue
		}
		key := name
		if parentDir != "" {
			key = parentDir + "/" + name
		}
		if entry.IsDir() {
			subFiles, err := findFiles(filepath.Join(root, name), key)
			if err != nil {
				return nil, err
			}
			files = append(files, subFiles...)
		} else {
			files = append(files, key)
		}
	}
	return files, nil
}
