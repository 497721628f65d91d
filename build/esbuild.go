package build

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/ije/gox/utils"
)

// CompileOptions are passed to the compile function.
type CompileOptions struct {
	// Mode is "development" or "production".
	Mode       string
	SourceFile string
	// Loader is one of "js", "jsx", "ts", "tsx" and "css".
	Loader    string
	SourceMap bool
	// RewriteImportPath returns the specifier to emit for an import of the source.
	RewriteImportPath func(specifier string) string
}

// CompileResult is the output of the compile function. A non-empty Diagnostics fails the compile.
type CompileResult struct {
	Diagnostics []string
	Output      []byte
	SourceMap   []byte
}

// CompileFunc transpiles a module source to an ES module. It must call RewriteImportPath for every
// import of the source and emit the returned specifier verbatim.
type CompileFunc func(id string, source []byte, opts CompileOptions) (*CompileResult, error)

var esbuildLoaders = map[string]api.Loader{
	"js":  api.LoaderJS,
	"jsx": api.LoaderJSX,
	"ts":  api.LoaderTS,
	"tsx": api.LoaderTSX,
	"css": api.LoaderCSS,
}

// EsbuildCompile is the default compile function. Imports are rewritten by a resolver plugin that marks
// every import as external, so the emitted specifiers come from the syntax tree rather than from the text.
func EsbuildCompile(id string, source []byte, opts CompileOptions) (*CompileResult, error) {
	loader, ok := esbuildLoaders[opts.Loader]
	if !ok {
		return nil, fmt.Errorf("unknown loader %q", opts.Loader)
	}

	mode := opts.Mode
	if mode == "" {
		mode = "development"
	}

	var lock sync.Mutex
	onResolve := func(args api.OnResolveArgs) (api.OnResolveResult, error) {
		path := args.Path
		if opts.RewriteImportPath != nil && loader != api.LoaderCSS {
			lock.Lock()
			path = opts.RewriteImportPath(args.Path)
			lock.Unlock()
		}
		return api.OnResolveResult{
			Path:     path,
			External: true,
		}, nil
	}

	buildOpts := api.BuildOptions{
		// paths in comments and source maps are relative to the working directory
		AbsWorkingDir: "/",
		Outdir:        "/esbuild",
		Stdin: &api.StdinOptions{
			Contents:   string(source),
			ResolveDir: "/",
			Sourcefile: strings.TrimPrefix(opts.SourceFile, "./"),
			Loader:     loader,
		},
		Platform:    api.PlatformBrowser,
		Format:      api.FormatESModule,
		Target:      api.ES2020,
		Bundle:      true,
		TreeShaking: api.TreeShakingFalse,
		Write:       false,
		Plugins: []api.Plugin{
			{
				Name: "resolver",
				Setup: func(build api.PluginBuild) {
					build.OnResolve(api.OnResolveOptions{Filter: ".*"}, onResolve)
				},
			},
		},
	}
	if loader == api.LoaderCSS {
		buildOpts.MinifyWhitespace = true
	} else {
		buildOpts.Define = map[string]string{
			"process.env.NODE_ENV": strconv.Quote(mode),
		}
		if opts.SourceMap {
			buildOpts.Sourcemap = api.SourceMapExternal
			buildOpts.SourcesContent = api.SourcesContentInclude
		}
	}

	ret := api.Build(buildOpts)
	if len(ret.Errors) > 0 {
		return &CompileResult{Diagnostics: formatMessages(ret.Errors)}, nil
	}

	result := &CompileResult{}
	for _, file := range ret.OutputFiles {
		if strings.HasSuffix(file.Path, ".map") {
			result.SourceMap = file.Contents
		} else {
			result.Output = file.Contents
		}
	}
	if loader == api.LoaderCSS {
		result.Output = styleModule(id, bytes.TrimSpace(result.Output))
	}
	return result, nil
}

// styleModule wraps the stylesheet into a module that applies it to the document and exports the css text.
func styleModule(id string, css []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "const CSS = %s;\n", bytes.TrimSpace(utils.MustEncodeJSON(string(css))))
	fmt.Fprintf(&b, "const id = %s;\n", bytes.TrimSpace(utils.MustEncodeJSON(id)))
	b.WriteString("if (typeof document !== \"undefined\") {\n")
	b.WriteString("  let styleEl = document.head.querySelector(`style[data-module-id=\"${id}\"]`);\n")
	b.WriteString("  if (!styleEl) {\n")
	b.WriteString("    styleEl = document.createElement(\"style\");\n")
	b.WriteString("    styleEl.dataset.moduleId = id;\n")
	b.WriteString("    document.head.appendChild(styleEl);\n")
	b.WriteString("  }\n")
	b.WriteString("  styleEl.textContent = CSS;\n")
	b.WriteString("}\n")
	b.WriteString("export default CSS;\n")
	return b.Bytes()
}

// scanImports returns the import specifiers of raw javascript without generating code.
func scanImports(sourceFile string, source []byte) (specifiers []string, diagnostics []string) {
	var lock sync.Mutex
	seen := map[string]bool{}
	ret := api.Build(api.BuildOptions{
		Outdir: "/esbuild",
		Stdin: &api.StdinOptions{
			Contents:   string(source),
			ResolveDir: "/",
			Sourcefile: sourceFile,
			Loader:     api.LoaderJS,
		},
		Platform:    api.PlatformBrowser,
		Format:      api.FormatESModule,
		Bundle:      true,
		TreeShaking: api.TreeShakingFalse,
		Write:       false,
		Plugins: []api.Plugin{
			{
				Name: "scanner",
				Setup: func(build api.PluginBuild) {
					build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						lock.Lock()
						if !seen[args.Path] {
							seen[args.Path] = true
							specifiers = append(specifiers, args.Path)
						}
						lock.Unlock()
						return api.OnResolveResult{Path: args.Path, External: true}, nil
					})
				},
			},
		},
	})
	if len(ret.Errors) > 0 {
		return nil, formatMessages(ret.Errors)
	}
	return
}

func formatMessages(messages []api.Message) []string {
	lines := make([]string, len(messages))
	for i, msg := range messages {
		if loc := msg.Location; loc != nil {
			lines[i] = fmt.Sprintf("%s:%d:%d: %s", loc.File, loc.Line, loc.Column, msg.Text)
		} else {
			lines[i] = msg.Text
		}
	}
	return lines
}
