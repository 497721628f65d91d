package build

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/ije/gox/set"
	"github.com/postjs/compiler/internal/importmap"
	"github.com/postjs/compiler/internal/storage"
	"golang.org/x/sync/singleflight"
)

const VERSION = "0.1.0"

// Options configures a build context.
type Options struct {
	// Root is the source root directory.
	Root string
	// Mode is "development" or "production".
	Mode          string
	BaseURL       string
	DefaultLocale string
	// CacheRemote rewrites every remote import to a locally served copy. When false only remote
	// modules that need compiling (.jsx, .ts, .tsx) are served locally.
	CacheRemote bool
	// CacheDir defaults to "<root>/.cache".
	CacheDir string
	// RemoteCacheDir shares compiled remote modules between projects when set.
	RemoteCacheDir string
	// CacheMaxBytes bounds the size of the cache directory, zero means unbounded.
	CacheMaxBytes  int64
	SourceHashSalt string
	SourceMap      bool
	// ImportMap defaults to "<root>/import_map.json".
	ImportMap *importmap.ImportMap
	// Compile defaults to EsbuildCompile.
	Compile CompileFunc
	// CompilerID names the compile function in the cache records, cached modules of another
	// compiler are compiled again. Defaults to "esbuild" with the default compile function.
	CompilerID string
	// Storage overrides the cache storage.
	Storage        storage.Storage
	FetchTimeout   time.Duration
	FetchWarnAfter time.Duration
	UserAgent      string
	// RevalidateRemote reports whether a remote module is fetched again on every compile,
	// defaults to modules of loopback origins.
	RevalidateRemote func(u *url.URL) bool
}

// Context is an incremental build of a source tree. Passes are serialized, readers may query the
// compiled modules at any time.
type Context struct {
	opts        Options
	root        string
	graph       *Graph
	cache       *Cache
	resolver    *Resolver
	fetcher     *Fetcher
	compileFunc CompileFunc
	flight      singleflight.Group

	// guarded by lock
	lock      sync.Mutex
	synthetic map[string][]byte
	failed    map[string]moduleRequest

	entriesLock sync.RWMutex
	appModule   string
	pageModules map[string]string
	apiModules  map[string]string
}

func NewContext(opts Options) (*Context, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	if opts.Mode == "" {
		opts.Mode = "development"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "/"
	}
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "en"
	}
	if opts.Compile == nil {
		opts.Compile = EsbuildCompile
		if opts.CompilerID == "" {
			opts.CompilerID = "esbuild"
		}
	}
	if opts.ImportMap == nil {
		filename := filepath.Join(root, "import_map.json")
		im, err := importmap.LoadFile(filename)
		if err != nil {
			log.Warnf("%v, using an empty import map", &ConfigError{File: filename, Err: err})
			im = &importmap.ImportMap{}
		}
		opts.ImportMap = im
	}

	local := opts.Storage
	if local == nil {
		cacheDir := opts.CacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(root, ".cache")
		}
		local, err = storage.New(&storage.StorageOptions{Type: "fs", Endpoint: cacheDir, MaxBytes: opts.CacheMaxBytes})
		if err != nil {
			return nil, err
		}
	}
	var remote storage.Storage
	if opts.RemoteCacheDir != "" {
		shared, err := storage.New(&storage.StorageOptions{Type: "fs", Endpoint: opts.RemoteCacheDir})
		if err != nil {
			return nil, err
		}
		remote = storage.NewLayeredStorage(local, shared)
	}

	return &Context{
		opts:        opts,
		root:        root,
		graph:       NewGraph(),
		cache:       NewCache(local, remote, compileConfig(&opts)),
		resolver:    NewResolver(root, opts.ImportMap, opts.CacheRemote),
		compileFunc: opts.Compile,
		fetcher: NewFetcher(FetcherOptions{
			ImportMap:  opts.ImportMap,
			UserAgent:  opts.UserAgent,
			Timeout:    opts.FetchTimeout,
			WarnAfter:  opts.FetchWarnAfter,
			Salt:       opts.SourceHashSalt,
			Revalidate: opts.RevalidateRemote,
		}),
		synthetic:   map[string][]byte{},
		failed:      map[string]moduleRequest{},
		pageModules: map[string]string{},
		apiModules:  map[string]string{},
	}, nil
}

// compileConfig identifies the settings that change the emitted content of a module.
func compileConfig(opts *Options) string {
	im, err := json.Marshal(opts.ImportMap)
	if err != nil {
		im = nil
	}
	return fmt.Sprintf(
		"mode=%s;sourcemap=%t;cacheRemote=%t;compiler=%s;importmap=%s",
		opts.Mode,
		opts.SourceMap,
		opts.CacheRemote,
		opts.CompilerID,
		SourceDigest(im, ""),
	)
}

func (c *Context) Root() string {
	return c.root
}

func (c *Context) Options() Options {
	return c.opts
}

func (c *Context) Graph() *Graph {
	return c.graph
}

func requestOfSpecifier(specifier string) (moduleRequest, error) {
	if isRemoteURL(specifier) {
		id, err := RemoteID(specifier)
		if err != nil {
			return moduleRequest{}, err
		}
		return moduleRequest{id: id, sourceFile: specifier, remote: true}, nil
	}
	return localRequest(specifier), nil
}

// Compile compiles the module and its dependencies. The specifier is a source file relative to the
// root or a remote url. Concurrent calls for the same module share one compile.
func (c *Context) Compile(ctx context.Context, specifier string) (*Module, error) {
	req, err := requestOfSpecifier(specifier)
	if err != nil {
		return nil, err
	}
	v, err, _ := c.flight.Do(req.id, func() (any, error) {
		c.lock.Lock()
		defer c.lock.Unlock()

		p := c.newPass(ctx, nil, nil)
		c.run(p, req)
		if err := p.errs[req.id]; err != nil {
			return nil, err
		}
		m, _ := c.graph.Get(req.id)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

// CompileSource compiles an in-memory module, for example a generated bootstrap module.
func (c *Context) CompileSource(ctx context.Context, sourceFile string, source []byte) (*Module, error) {
	req := localRequest(sourceFile)
	c.lock.Lock()
	c.synthetic[req.id] = source
	c.lock.Unlock()
	return c.Compile(ctx, req.sourceFile)
}

// Recompile compiles the changed source file regardless of its digest and propagates the new
// fingerprint to every transitive importer. It returns the modules whose fingerprint changed.
// Source files that are neither entries nor imported by any module are ignored.
func (c *Context) Recompile(ctx context.Context, sourceFile string) ([]*Module, error) {
	p, err := c.recompile(ctx, sourceFile)
	if p == nil {
		return nil, err
	}
	return p.changed, err
}

func (c *Context) recompile(ctx context.Context, sourceFile string) (*pass, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	req := localRequest(sourceFile)
	_, known := c.graph.Get(req.id)
	_, failed := c.failed[req.id]
	importers := c.graph.Importers(req.id)
	entry := c.addEntry(strings.TrimPrefix(req.sourceFile, "./"))
	if !known && !failed && !entry && len(importers) == 0 {
		return nil, nil
	}

	scope := set.New(req.id)
	requests := []moduleRequest{req}
	for _, id := range c.graph.Ancestors(req.id) {
		if m, ok := c.graph.Get(id); ok {
			scope.Add(id)
			requests = append(requests, requestOfModule(m))
		}
	}
	failedIDs := make([]string, 0, len(c.failed))
	for id := range c.failed {
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)
	for _, id := range failedIDs {
		scope.Add(id)
		requests = append(requests, c.failed[id])
	}

	p := c.newPass(ctx, set.New(req.id), scope)
	c.run(p, requests...)
	return p, p.errs[req.id]
}

// Remove drops the module of the deleted source file. Its importers are left as they are until they
// are compiled again. It returns the importers of the module.
func (c *Context) Remove(sourceFile string) (*Module, []string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	req := localRequest(sourceFile)
	delete(c.failed, req.id)
	delete(c.synthetic, req.id)
	c.removeEntry(req.id)
	m, _ := c.graph.Remove(req.id)
	return m, c.graph.Importers(req.id)
}

// Build compiles the app module, the pages and the api modules found in the source tree.
// Failures of individual entries are joined, the other entries are still built.
func (c *Context) Build(ctx context.Context) (*Manifest, error) {
	files, err := ListSourceModules(c.root, sourceExts, defaultExcludes)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	var requests []moduleRequest
	for _, file := range files {
		if c.addEntry(file) {
			requests = append(requests, localRequest(file))
		}
	}
	p := c.newPass(ctx, nil, nil)
	c.run(p, requests...)
	c.lock.Unlock()

	var errs []error
	for _, req := range requests {
		if err := p.errs[req.id]; err != nil {
			errs = append(errs, err)
		}
	}
	return c.Manifest(), errors.Join(errs...)
}

// Module returns the finalized module.
func (c *Context) Module(id string) (*Module, bool) {
	m, ok := c.graph.Get(id)
	if !ok || m.State != Finalized {
		return nil, false
	}
	return m, true
}

// ModuleByPath returns the finalized module served at the url path.
func (c *Context) ModuleByPath(pathname string) (*Module, bool) {
	id, ok := c.ModuleIDByPath(pathname)
	if !ok {
		return nil, false
	}
	return c.Module(id)
}

// ModuleIDByPath maps a url path under the base url to a module identity, the version segment of
// the path is ignored.
func (c *Context) ModuleIDByPath(pathname string) (string, bool) {
	if base := strings.TrimSuffix(c.opts.BaseURL, "/"); base != "" {
		if !strings.HasPrefix(pathname, base+"/") {
			return "", false
		}
		pathname = strings.TrimPrefix(pathname, base)
	}
	pathname = strings.TrimPrefix(pathname, "/_dist")
	if !strings.HasSuffix(pathname, ".js") {
		return "", false
	}
	return ModuleIDFromServedPath(pathname), true
}

// Modules returns the finalized modules sorted by id.
func (c *Context) Modules() []*Module {
	var modules []*Module
	for _, m := range c.graph.Modules() {
		if m.State == Finalized {
			modules = append(modules, m)
		}
	}
	return modules
}

// ServedPath returns the url path of the module including the base url.
func (c *Context) ServedPath(m *Module) string {
	return path.Join(c.opts.BaseURL, m.ServedPath())
}
