package build

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/ije/gox/set"
	"github.com/postjs/compiler/internal/storage"
)

// WriteDist writes the finalized modules and the build manifest to "<dir>/_dist", the layout served by
// the dev handler. The bootstrap module is also written unversioned as "main.js". Files of a previous
// output that are not written again are removed. It returns the number of modules written.
func (c *Context) WriteDist(dir string) (int, error) {
	dist, err := storage.NewFSStorage(&storage.StorageOptions{Endpoint: filepath.Join(dir, "_dist")})
	if err != nil {
		return 0, err
	}
	prev, err := dist.List("")
	if err != nil {
		return 0, err
	}

	written := set.New[string]()
	put := func(key string, content []byte) error {
		written.Add(key)
		return dist.Put(key, bytes.NewReader(content))
	}
	modules := c.Modules()
	for _, m := range modules {
		key := strings.TrimPrefix(m.ServedPath(), "/")
		if err := put(key, m.Content); err != nil {
			return 0, err
		}
		if len(m.SourceMap) > 0 {
			if err := put(key+".map", m.SourceMap); err != nil {
				return 0, err
			}
		}
		if m.ID == BootstrapID {
			if err := put("main.js", m.Content); err != nil {
				return 0, err
			}
		}
	}
	manifest, err := json.Marshal(c.Manifest())
	if err != nil {
		return 0, err
	}
	if err := put("build-manifest.json", manifest); err != nil {
		return 0, err
	}

	for _, key := range prev {
		if !written.Has(key) {
			if err := dist.Delete(key); err != nil && err != storage.ErrNotFound {
				log.Warnf("could not remove %s: %v", key, err)
			}
		}
	}
	return len(modules), nil
}
