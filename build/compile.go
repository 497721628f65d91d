package build

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ije/gox/set"
)

const maxSourceSize = 10 << 20

// moduleRequest identifies a module to discover.
type moduleRequest struct {
	id         string
	sourceFile string
	remote     bool
}

func localRequest(sourceFile string) moduleRequest {
	sourceFile = NormalizeSourceFile(sourceFile)
	return moduleRequest{id: LocalID(sourceFile), sourceFile: sourceFile}
}

func requestOf(dep Dependency) moduleRequest {
	if dep.IsRemote() {
		return moduleRequest{id: dep.ID(), sourceFile: dep.Path, remote: true}
	}
	return moduleRequest{id: dep.ID(), sourceFile: dep.Path}
}

func requestOfModule(m *Module) moduleRequest {
	return moduleRequest{id: m.ID, sourceFile: m.SourceFile, remote: m.IsRemote}
}

// pass is one propagation: discover the requested modules and their dependencies, then resolve
// the version slots and fingerprints of everything discovered, dependencies first.
type pass struct {
	ctx      context.Context
	force    *set.Set[string]
	scope    *set.Set[string]
	visiting map[string]bool
	requests map[string]moduleRequest
	modules  map[string]*Module
	prev     map[string]*Module
	errs     map[string]error
	changed  []*Module
	// created holds the changed modules that had no finalized version before the pass.
	created *set.Set[string]
}

// newPass creates a pass. Modules in force are compiled even if their source is unchanged. With a
// non-nil scope, finalized modules outside of the scope are taken from the graph without being discovered.
func (c *Context) newPass(ctx context.Context, force *set.Set[string], scope *set.Set[string]) *pass {
	if force == nil {
		force = set.New[string]()
	}
	return &pass{
		ctx:      ctx,
		force:    force,
		scope:    scope,
		visiting: map[string]bool{},
		requests: map[string]moduleRequest{},
		modules:  map[string]*Module{},
		prev:     map[string]*Module{},
		errs:     map[string]error{},
		created:  set.New[string](),
	}
}

// run must be called with the context lock held.
func (c *Context) run(p *pass, requests ...moduleRequest) {
	for _, req := range requests {
		c.discover(p, req)
	}
	c.resolve(p)

	for id, err := range p.errs {
		if req, ok := p.requests[id]; ok {
			c.failed[id] = req
		}
		log.Debugf("%s: %v", id, err)
	}
}

func (c *Context) discover(p *pass, req moduleRequest) error {
	if err, ok := p.errs[req.id]; ok {
		return err
	}
	if p.visiting[req.id] {
		return nil
	}
	p.visiting[req.id] = true
	p.requests[req.id] = req

	if p.scope != nil && !p.scope.Has(req.id) && !p.force.Has(req.id) {
		if m, ok := c.graph.Get(req.id); ok && m.State == Finalized && !c.alwaysRevalidate(m) {
			return nil
		}
	}

	m, err := c.load(p, req)
	if err != nil {
		p.errs[req.id] = err
		return err
	}
	p.modules[req.id] = m

	var failed error
	for _, dep := range m.Deps {
		if err := c.discover(p, requestOf(dep)); err != nil && failed == nil {
			failed = fmt.Errorf("%s: %w", req.id, err)
		}
	}
	if failed != nil {
		p.errs[req.id] = failed
	}
	return failed
}

func (c *Context) alwaysRevalidate(m *Module) bool {
	return m.IsRemote && c.fetcher.Revalidate(m.SourceFile)
}

// load obtains the source of the module and compiles it, unless the persisted version was compiled
// from the same source.
func (c *Context) load(p *pass, req moduleRequest) (*Module, error) {
	forced := p.force.Has(req.id)
	prev, ok := c.graph.Get(req.id)
	if !ok {
		prev, ok = c.cache.Lookup(req.id)
	}
	if ok {
		p.prev[req.id] = prev
	}

	reuse := func(digest string) (*Module, bool) {
		if prev == nil || forced || prev.SourceFile != req.sourceFile {
			return nil, false
		}
		if digest != "" && prev.SourceDigest != digest {
			return nil, false
		}
		m := prev.clone()
		m.State = Compiled
		return m, true
	}

	if req.remote {
		if !c.fetcher.Revalidate(req.sourceFile) {
			if m, ok := reuse(""); ok {
				return m, nil
			}
		}
		src, err := c.fetcher.Fetch(p.ctx, req.sourceFile)
		if err != nil {
			return nil, err
		}
		if m, ok := reuse(src.Digest); ok {
			return m, nil
		}
		m := &Module{
			ID:           req.id,
			SourceFile:   req.sourceFile,
			IsRemote:     true,
			SourceDigest: src.Digest,
			State:        SourceFetched,
		}
		return m, c.compile(m, src.Content, src.ContentType)
	}

	source, err := c.readSource(req)
	if err != nil {
		return nil, err
	}
	digest := SourceDigest(source, c.opts.SourceHashSalt)
	if m, ok := reuse(digest); ok {
		return m, nil
	}
	m := &Module{
		ID:           req.id,
		SourceFile:   req.sourceFile,
		SourceDigest: digest,
		State:        SourceFetched,
	}
	return m, c.compile(m, source, "")
}

func (c *Context) readSource(req moduleRequest) ([]byte, error) {
	if source, ok := c.synthetic[req.id]; ok {
		return source, nil
	}
	filename := filepath.Join(c.root, filepath.FromSlash(req.sourceFile))
	fi, err := os.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &FetchError{URL: req.sourceFile, Status: 404, Err: err}
		}
		return nil, &FetchError{URL: req.sourceFile, Err: err}
	}
	if !fi.Mode().IsRegular() {
		return nil, &FetchError{URL: req.sourceFile, Status: 404, Err: fs.ErrNotExist}
	}
	if fi.Size() > maxSourceSize {
		return nil, &SourceTooLargeError{Path: req.sourceFile, Size: fi.Size()}
	}
	source, err := os.ReadFile(filename)
	if err != nil {
		return nil, &FetchError{URL: req.sourceFile, Err: err}
	}
	return source, nil
}

// compile emits the module content with the version slots of its local dependencies recorded.
func (c *Context) compile(m *Module, source []byte, contentType string) error {
	loader := loaderOf(m.SourceFile, contentType)
	m.Kind = kindOfLoader(loader)
	rw := newImportRewriter(c.resolver, m, source)

	if m.IsRemote && loader == "js" {
		specifiers, diagnostics := scanImports(m.SourceFile, source)
		if len(diagnostics) > 0 {
			return &CompileError{ID: m.ID, Diagnostics: diagnostics}
		}
		m.Content = rewriteRawImports(source, specifiers, rw.rewrite)
		if err := rw.error(); err != nil {
			return &CompileError{ID: m.ID, Diagnostics: []string{err.Error()}}
		}
		m.Deps = rw.finish(m.Content)
		m.SourceMap = nil
		m.State = Compiled
		return nil
	}

	ret, err := c.compileFunc(m.ID, source, CompileOptions{
		Mode:              c.opts.Mode,
		SourceFile:        m.SourceFile,
		Loader:            loader,
		SourceMap:         c.opts.SourceMap && !m.IsRemote,
		RewriteImportPath: rw.rewrite,
	})
	if err != nil {
		return &CompileError{ID: m.ID, Diagnostics: []string{err.Error()}}
	}
	if len(ret.Diagnostics) > 0 {
		return &CompileError{ID: m.ID, Diagnostics: ret.Diagnostics}
	}
	if err := rw.error(); err != nil {
		return &CompileError{ID: m.ID, Diagnostics: []string{err.Error()}}
	}
	m.Content = ret.Output
	m.Deps = rw.finish(m.Content)
	m.SourceMap = ret.SourceMap
	m.State = Compiled
	return nil
}

// target returns the current version of the dependency target.
func (c *Context) target(p *pass, dep Dependency) (*Module, bool) {
	id := dep.ID()
	if m, ok := p.modules[id]; ok {
		return m, true
	}
	if m, ok := c.graph.Get(id); ok && m.State == Finalized {
		return m, true
	}
	return nil, false
}

// resolve fills the version slots of every discovered module, fingerprints it and persists it.
// The members of an import cycle share one version token computed from all of their contents with
// the imports within the cycle left as placeholders, so the result does not depend on the order the
// modules were discovered in and a change of any member reaches every importer of the cycle.
func (c *Context) resolve(p *pass) {
	ids := make([]string, 0, len(p.modules))
	for id := range p.modules {
		ids = append(ids, id)
	}
	components := stronglyConnected(ids, func(id string) []string {
		m := p.modules[id]
		targets := make([]string, len(m.Deps))
		for i, dep := range m.Deps {
			targets[i] = dep.ID()
		}
		return targets
	})

	for _, component := range components {
		members := set.New(component...)
		if err := c.resolveComponent(p, component, members); err != nil {
			for _, id := range component {
				if _, ok := p.errs[id]; !ok {
					p.errs[id] = err
				}
			}
			continue
		}
		for _, id := range component {
			c.finalize(p, p.modules[id])
		}
	}
}

func (c *Context) resolveComponent(p *pass, component []string, members *set.Set[string]) error {
	for _, id := range component {
		if err, ok := p.errs[id]; ok {
			return err
		}
		for _, dep := range p.modules[id].Deps {
			depID := dep.ID()
			if err, ok := p.errs[depID]; ok {
				return fmt.Errorf("%s: %w", id, err)
			}
			if _, ok := c.target(p, dep); !ok {
				return fmt.Errorf("%s: %w", id, &FetchError{URL: dep.Path, Status: 404, Err: fs.ErrNotExist})
			}
		}
	}

	sort.Strings(component)
	modules := make([]*Module, len(component))
	cyclic := len(component) > 1
	for i, id := range component {
		m := p.modules[id]
		modules[i] = m
		for _, dep := range m.Deps {
			if dep.ID() == id {
				cyclic = true
			}
		}
	}

	fill := func(intra string) {
		for _, m := range modules {
			fillSlots(m.Content, m.Deps, func(dep Dependency) string {
				if members.Has(dep.ID()) {
					return intra
				}
				t, _ := c.target(p, dep)
				return t.version()
			})
		}
	}
	fill(Placeholder)
	version := ""
	if cyclic {
		version = cycleVersion(modules)
		fill(version)
	}

	for _, m := range modules {
		m.Fingerprint = Fingerprint(m.Content)
		m.Version = version
		if version == "" {
			m.Version = ShortFingerprint(m.Fingerprint)
		}
		if err := checkCollision(m.ID, p.prev[m.ID], m); err != nil {
			return err
		}
		m.State = DependenciesResolved
	}

	for _, id := range component {
		m := p.modules[id]
		for i, dep := range m.Deps {
			t, _ := c.target(p, dep)
			m.Deps[i].Fingerprint = t.Fingerprint
		}
	}
	return nil
}

// finalize persists the module when it differs from the persisted version and records it in the graph.
// A persistence failure is logged, the module is still served from memory.
func (c *Context) finalize(p *pass, m *Module) {
	prev := p.prev[m.ID]

	var err error
	switch {
	case prev == nil || prev.Fingerprint != m.Fingerprint:
		err = c.cache.Store(m, prev)
	default:
		if !bytes.Equal(prev.SourceMap, m.SourceMap) && len(m.SourceMap) > 0 {
			err = c.cache.StoreSourceMap(m)
		}
		if err == nil && (prev.SourceDigest != m.SourceDigest || prev.SourceFile != m.SourceFile || prev.Version != m.Version || !sameDeps(prev.Deps, m.Deps)) {
			err = c.cache.StoreMeta(m)
		}
	}
	if err != nil {
		log.Errorf("failed to save %s: %v", m.ID, err)
	}

	if old, ok := c.graph.Get(m.ID); !ok || old.State != Finalized {
		p.created.Add(m.ID)
	}
	m.State = Finalized
	c.graph.Set(m)
	delete(c.failed, m.ID)
	if prev == nil || prev.Fingerprint != m.Fingerprint {
		p.changed = append(p.changed, m)
	}
}

func sameDeps(a []Dependency, b []Dependency) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Path != b[i].Path || a[i].Fingerprint != b[i].Fingerprint || len(a[i].Slots) != len(b[i].Slots) {
			return false
		}
		for j := range a[i].Slots {
			if a[i].Slots[j] != b[i].Slots[j] {
				return false
			}
		}
	}
	return true
}
