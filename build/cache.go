package build

import (
	"bytes"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-json"
	"github.com/postjs/compiler/internal/storage"
)

// CacheFormatVersion is written into the metadata of every cached module. Metadata written by a
// different minor version is ignored.
const CacheFormatVersion = "1.2.0"

var cacheFormatConstraint = mustCacheFormatConstraint()

func mustCacheFormatConstraint() *semver.Constraints {
	v := semver.MustParse(CacheFormatVersion)
	c, err := semver.NewConstraint("~" + v.Original())
	if err != nil {
		panic(err)
	}
	return c
}

// moduleMeta is the persisted metadata of a module: "<name>.meta.json".
type moduleMeta struct {
	Version       string       `json:"version"`
	Config        string       `json:"config"`
	SourceFile    string       `json:"sourceFile"`
	SourceHash    string       `json:"sourceHash"`
	Hash          string       `json:"hash"`
	ModuleVersion string       `json:"moduleVersion"`
	Deps          []Dependency `json:"deps"`
}

// Cache persists compiled modules as artifacts named by fingerprint plus a metadata record.
// Remote modules may be stored separately to share them between projects.
type Cache struct {
	local  storage.Storage
	remote storage.Storage
	config string
}

// NewCache creates a cache, a nil remote storage keeps remote modules in the local storage.
// The config identifies the compile settings, records written with other settings are a miss.
func NewCache(local storage.Storage, remote storage.Storage, config string) *Cache {
	if remote == nil {
		remote = local
	}
	return &Cache{local: local, remote: remote, config: config}
}

func (c *Cache) storageOf(id string) storage.Storage {
	if strings.HasPrefix(id, "/-/") {
		return c.remote
	}
	return c.local
}

func metaKey(id string) string {
	return servedBase(id) + ".meta.json"
}

func artifactKey(id string, fingerprint string) string {
	if strings.HasPrefix(id, "/-/") {
		return servedBase(id) + ".js"
	}
	return servedBase(id) + "." + ShortFingerprint(fingerprint) + ".js"
}

// Lookup loads the cached module. Missing, unreadable, incompatible or inconsistent records are a miss.
func (c *Cache) Lookup(id string) (*Module, bool) {
	s := c.storageOf(id)
	data, err := storage.ReadAll(s, metaKey(id))
	if err != nil {
		if err != storage.ErrNotFound {
			log.Debugf("cache: read %s: %v", metaKey(id), err)
		}
		return nil, false
	}

	var meta moduleMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Debugf("cache: invalid metadata %s: %v", metaKey(id), err)
		return nil, false
	}
	if !validMeta(&meta) {
		log.Debugf("cache: incompatible metadata %s", metaKey(id))
		return nil, false
	}
	if meta.Config != c.config {
		log.Debugf("cache: %s was compiled with other settings", id)
		return nil, false
	}

	content, err := storage.ReadAll(s, artifactKey(id, meta.Hash))
	if err != nil {
		log.Debugf("cache: read artifact of %s: %v", id, err)
		return nil, false
	}
	if Fingerprint(content) != meta.Hash {
		log.Debugf("cache: artifact of %s does not match its fingerprint", id)
		return nil, false
	}
	if !validSlots(content, meta.Deps) {
		log.Debugf("cache: invalid slots in %s", metaKey(id))
		return nil, false
	}

	sourceMap, err := storage.ReadAll(s, artifactKey(id, meta.Hash)+".map")
	if err != nil {
		sourceMap = nil
	}

	return &Module{
		ID:           id,
		SourceFile:   meta.SourceFile,
		IsRemote:     strings.HasPrefix(id, "/-/"),
		Kind:         kindOfLoader(loaderOf(meta.SourceFile, "")),
		SourceDigest: meta.SourceHash,
		Deps:         meta.Deps,
		Content:      content,
		SourceMap:    sourceMap,
		Fingerprint:  meta.Hash,
		Version:      meta.ModuleVersion,
		State:        Compiled,
	}, true
}

func validMeta(meta *moduleMeta) bool {
	v, err := semver.NewVersion(meta.Version)
	if err != nil || !cacheFormatConstraint.Check(v) {
		return false
	}
	if len(meta.Hash) != 40 || len(meta.ModuleVersion) != FingerprintPrefixLen || meta.SourceFile == "" || meta.SourceHash == "" {
		return false
	}
	for _, dep := range meta.Deps {
		if dep.Path == "" {
			return false
		}
	}
	return true
}

// Store writes the artifact, the source map and then the metadata of the module, each atomically.
// The artifact of the previous version is removed afterwards.
func (c *Cache) Store(m *Module, prev *Module) error {
	s := c.storageOf(m.ID)
	key := artifactKey(m.ID, m.Fingerprint)
	if err := s.Put(key, bytes.NewReader(m.Content)); err != nil {
		return err
	}
	if len(m.SourceMap) > 0 {
		if err := s.Put(key+".map", bytes.NewReader(m.SourceMap)); err != nil {
			return err
		}
	}
	if err := c.StoreMeta(m); err != nil {
		return err
	}
	if prev != nil && prev.Fingerprint != "" {
		if prevKey := artifactKey(m.ID, prev.Fingerprint); prevKey != key {
			s.Delete(prevKey)
			s.Delete(prevKey + ".map")
		}
	}
	return nil
}

// StoreMeta rewrites the metadata of the module only, the artifact must be stored already.
func (c *Cache) StoreMeta(m *Module) error {
	deps := m.Deps
	if deps == nil {
		deps = []Dependency{}
	}
	data, err := json.Marshal(moduleMeta{
		Version:       CacheFormatVersion,
		Config:        c.config,
		SourceFile:    m.SourceFile,
		SourceHash:    m.SourceDigest,
		Hash:          m.Fingerprint,
		ModuleVersion: m.version(),
		Deps:          deps,
	})
	if err != nil {
		return err
	}
	return c.storageOf(m.ID).Put(metaKey(m.ID), bytes.NewReader(data))
}

// StoreSourceMap rewrites the source map of the module only.
func (c *Cache) StoreSourceMap(m *Module) error {
	return c.storageOf(m.ID).Put(artifactKey(m.ID, m.Fingerprint)+".map", bytes.NewReader(m.SourceMap))
}
