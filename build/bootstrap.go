package build

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
)

// BootstrapID is the identity of the generated bootstrap module.
const BootstrapID = "./main.js"

// bootstrapSource generates the bootstrap module: it imports the app module and loads the pages by
// route, so it is versioned by every entry.
func (c *Context) bootstrapSource() []byte {
	c.entriesLock.RLock()
	defer c.entriesLock.RUnlock()

	var b bytes.Buffer
	app := "null"
	if m, ok := c.graph.Get(c.appModule); ok && c.appModule != "" {
		fmt.Fprintf(&b, "import App from %s;\n", strconv.Quote(m.SourceFile))
		app = "App"
	}
	fmt.Fprintf(&b, "export const baseUrl = %s;\n", strconv.Quote(c.opts.BaseURL))
	fmt.Fprintf(&b, "export const defaultLocale = %s;\n", strconv.Quote(c.opts.DefaultLocale))
	fmt.Fprintf(&b, "export const app = %s;\n", app)

	routes := make([]string, 0, len(c.pageModules))
	for route := range c.pageModules {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	b.WriteString("export const pages = {\n")
	for _, route := range routes {
		if m, ok := c.graph.Get(c.pageModules[route]); ok {
			fmt.Fprintf(&b, "  %s: () => import(%s),\n", strconv.Quote(route), strconv.Quote(m.SourceFile))
		}
	}
	b.WriteString("};\n")
	return b.Bytes()
}

// CompileBootstrap generates and compiles the bootstrap module of the current entries. It should
// be called again when an entry is added or removed.
func (c *Context) CompileBootstrap(ctx context.Context) (*Module, error) {
	return c.CompileSource(ctx, BootstrapID, c.bootstrapSource())
}
