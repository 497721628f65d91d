package build

import (
	"path"
	"sort"
	"strings"
)

var (
	sourceExts      = []string{".js", ".jsx", ".mjs", ".ts", ".tsx", ".mts"}
	defaultExcludes = []string{"*.d.ts", ".cache/", ".git/", "node_modules/"}
)

// Manifest describes the entries of a build for the client runtime.
type Manifest struct {
	BaseURL       string                    `json:"baseUrl"`
	DefaultLocale string                    `json:"defaultLocale"`
	AppModule     *ManifestModule           `json:"appModule"`
	PageModules   map[string]ManifestModule `json:"pageModules"`
}

type ManifestModule struct {
	ModuleID string `json:"moduleId,omitempty"`
	Hash     string `json:"hash"`
}

// pageRoute returns the route of a page source file: "pages/blog/index.tsx" -> "/blog".
func pageRoute(file string) string {
	route := "/" + trimModuleExt(strings.TrimPrefix(file, "pages/"))
	route = strings.Join(strings.Fields(route), "-")
	if route == "/index" {
		return "/"
	}
	return strings.TrimSuffix(route, "/index")
}

// apiRoute returns the route of an api source file: "api/users/[id].ts" -> "/api/users/[id]".
func apiRoute(file string) string {
	route := "/" + trimModuleExt(file)
	route = strings.Join(strings.Fields(route), "-")
	if route == "/api/index" {
		return "/api"
	}
	return strings.TrimSuffix(route, "/index")
}

// addEntry registers the source file when it is the app module, a page or an api module.
// The caller must hold the context lock.
func (c *Context) addEntry(file string) bool {
	if !hasModuleExt(file) || strings.HasSuffix(file, ".d.ts") {
		return false
	}
	id := LocalID(file)

	c.entriesLock.Lock()
	defer c.entriesLock.Unlock()

	switch {
	case path.Dir(file) == "." && trimModuleExt(file) == "app":
		c.appModule = id
	case strings.HasPrefix(file, "pages/"):
		route := pageRoute(file)
		if prev, ok := c.pageModules[route]; ok && prev != id {
			log.Warnf("page %s is defined by both %s and %s", route, prev, id)
		}
		c.pageModules[route] = id
	case strings.HasPrefix(file, "api/"):
		c.apiModules[apiRoute(file)] = id
	default:
		return false
	}
	return true
}

func (c *Context) removeEntry(id string) {
	c.entriesLock.Lock()
	defer c.entriesLock.Unlock()

	if c.appModule == id {
		c.appModule = ""
	}
	for route, moduleID := range c.pageModules {
		if moduleID == id {
			delete(c.pageModules, route)
		}
	}
	for route, moduleID := range c.apiModules {
		if moduleID == id {
			delete(c.apiModules, route)
		}
	}
}

// Manifest returns the manifest of the finalized entries.
func (c *Context) Manifest() *Manifest {
	c.entriesLock.RLock()
	defer c.entriesLock.RUnlock()

	manifest := &Manifest{
		BaseURL:       c.opts.BaseURL,
		DefaultLocale: c.opts.DefaultLocale,
		PageModules:   map[string]ManifestModule{},
	}
	if c.appModule != "" {
		if m, ok := c.Module(c.appModule); ok {
			manifest.AppModule = &ManifestModule{Hash: m.Fingerprint}
		}
	}
	for route, id := range c.pageModules {
		if m, ok := c.Module(id); ok {
			manifest.PageModules[route] = ManifestModule{ModuleID: id, Hash: m.Fingerprint}
		}
	}
	return manifest
}

// APIRoutes returns the routes of the finalized api modules, sorted.
func (c *Context) APIRoutes() []string {
	c.entriesLock.RLock()
	defer c.entriesLock.RUnlock()

	routes := make([]string, 0, len(c.apiModules))
	for route, id := range c.apiModules {
		if _, ok := c.Module(id); ok {
			routes = append(routes, route)
		}
	}
	sort.Strings(routes)
	return routes
}
