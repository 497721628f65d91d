package build

import (
	"strings"

	"github.com/postjs/compiler/internal/mime"
)

// SourceKind is the language of a module source.
type SourceKind int

const (
	SourceScript SourceKind = iota
	SourceMarkupScript
	SourceStyle
)

func (k SourceKind) String() string {
	switch k {
	case SourceMarkupScript:
		return "script-with-markup"
	case SourceStyle:
		return "style"
	default:
		return "script"
	}
}

// loaderOf returns the loader of the source by its content type or its extension. Remote servers
// often send typescript as javascript, a generic javascript content type falls back to the extension.
func loaderOf(sourceFile string, contentType string) string {
	if loader, ok := mime.Loader(contentType); ok && loader != "js" {
		return loader
	}
	p := sourceFile
	if isRemoteURL(p) {
		p, _, _ = strings.Cut(p, "?")
	}
	if loader, ok := mime.Loader(mime.TypeByFilename(p)); ok {
		return loader
	}
	return "js"
}

func kindOfLoader(loader string) SourceKind {
	switch loader {
	case "jsx", "tsx":
		return SourceMarkupScript
	case "css":
		return SourceStyle
	default:
		return SourceScript
	}
}

// ModuleState is the compile state of a module within a pass.
type ModuleState int

const (
	Uncompiled ModuleState = iota
	SourceFetched
	Compiled
	DependenciesResolved
	Finalized
)

func (s ModuleState) String() string {
	switch s {
	case SourceFetched:
		return "source-fetched"
	case Compiled:
		return "compiled"
	case DependenciesResolved:
		return "dependencies-resolved"
	case Finalized:
		return "finalized"
	default:
		return "uncompiled"
	}
}

// Dependency is an edge from a module to an imported module.
type Dependency struct {
	// Path is the full url of a remote dependency, or the root-relative source file of a local one.
	Path string `json:"path"`
	// Fingerprint is the last known fingerprint of the target.
	Fingerprint string `json:"hash"`
	// Slots are the byte offsets of the version tokens of the target in the emitted content.
	Slots []int `json:"slots,omitempty"`
}

func (d Dependency) IsRemote() bool {
	return isRemoteURL(d.Path)
}

// ID returns the identity of the target module.
func (d Dependency) ID() string {
	if d.IsRemote() {
		id, err := RemoteID(d.Path)
		if err != nil {
			return d.Path
		}
		return id
	}
	return LocalID(d.Path)
}

// Module is a compiled module. Modules held by the graph are never mutated, a new version replaces the old one.
type Module struct {
	ID           string
	SourceFile   string
	IsRemote     bool
	Kind         SourceKind
	SourceDigest string
	Deps         []Dependency
	Content      []byte
	SourceMap    []byte
	Fingerprint  string
	// Version is the token of the served path: the fingerprint prefix, or the token shared by the
	// members of an import cycle.
	Version      string
	State        ModuleState
}

// ServedPath returns the url path the module is served at.
func (m *Module) ServedPath() string {
	return ServedPath(m.ID, m.version())
}

func (m *Module) version() string {
	if m.Version != "" {
		return m.Version
	}
	return ShortFingerprint(m.Fingerprint)
}

func (m *Module) clone() *Module {
	c := *m
	c.Content = append([]byte(nil), m.Content...)
	c.Deps = make([]Dependency, len(m.Deps))
	for i, dep := range m.Deps {
		dep.Slots = append([]int(nil), dep.Slots...)
		c.Deps[i] = dep
	}
	return &c
}
