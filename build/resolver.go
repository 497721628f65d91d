package build

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/postjs/compiler/internal/importmap"
)

// Resolver maps import specifiers to dependencies and to the rewritten specifiers the emitted code uses.
type Resolver struct {
	root        string
	importMap   *importmap.ImportMap
	cacheRemote bool
}

// resolvedImport is a resolved specifier. Target is the rewritten specifier relative to the served location
// of the importer; local targets are completed with a version slot and the ".js" extension.
type resolvedImport struct {
	dep    Dependency
	target string
	slot   bool
}

func NewResolver(root string, importMap *importmap.ImportMap, cacheRemote bool) *Resolver {
	return &Resolver{root: root, importMap: importMap, cacheRemote: cacheRemote}
}

// Resolve resolves the specifier imported by the owner, it returns false when the specifier is
// kept unchanged and no dependency is recorded.
func (r *Resolver) Resolve(owner *Module, specifier string) (imp resolvedImport, ok bool) {
	spec, mapped := r.importMap.Resolve(specifier, owner.SourceFile)
	ownerDir := path.Dir(servedBase(owner.ID))

	if owner.IsRemote && !isRemoteURL(spec) {
		if !isLocalSpecifier(spec) {
			return imp, false
		}
		base, err := url.Parse(owner.SourceFile)
		if err != nil {
			return imp, false
		}
		ref, err := url.Parse(spec)
		if err != nil {
			return imp, false
		}
		spec = base.ResolveReference(ref).String()
	}

	if isRemoteURL(spec) {
		if !r.cacheRemote && !isTranspiledURL(spec) {
			return imp, false
		}
		id, err := RemoteID(spec)
		if err != nil {
			return imp, false
		}
		imp.dep = Dependency{Path: spec}
		imp.target = relativePath(ownerDir, servedBase(id)+".js")
		return imp, true
	}

	if !isLocalSpecifier(spec) {
		// bare specifiers without an import map entry stay external
		return imp, false
	}

	var p string
	if mapped || strings.HasPrefix(spec, "/") {
		p = path.Clean("/" + strings.TrimPrefix(spec, "./"))
	} else {
		p = path.Join(path.Dir(strings.TrimPrefix(owner.SourceFile, ".")), spec)
	}
	sourceFile := "." + r.probe(p)
	imp.dep = Dependency{Path: sourceFile}
	imp.target = relativePath(ownerDir, servedBase(LocalID(sourceFile)))
	imp.slot = true
	return imp, true
}

// probe completes an extension-less local path with the first existing module file.
func (r *Resolver) probe(p string) string {
	if hasModuleExt(p) || path.Ext(p) == ".css" {
		return p
	}
	for _, candidate := range []string{p, p + "/index"} {
		for _, ext := range probeExts {
			fi, err := os.Stat(filepath.Join(r.root, filepath.FromSlash(candidate+ext)))
			if err == nil && fi.Mode().IsRegular() {
				return candidate + ext
			}
		}
	}
	return p
}

// isTranspiledURL reports whether the remote module needs compiling to be executable in the browser.
func isTranspiledURL(rawURL string) bool {
	p, _, _ := strings.Cut(rawURL, "?")
	switch path.Ext(p) {
	case ".jsx", ".ts", ".tsx":
		return true
	}
	return false
}
