package build

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	reHashJS   = regexp.MustCompile(`\.[0-9a-fx]{9}\.js$`)
	moduleExts = []string{".ts", ".tsx", ".mts", ".js", ".jsx", ".mjs"}
	probeExts  = []string{".ts", ".tsx", ".js", ".jsx", ".mjs"}
)

func isRemoteURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func isLocalSpecifier(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/")
}

// isLoopback reports whether the url points to this machine, modules from such origins are always revalidated.
func isLoopback(u *url.URL) bool {
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func hasModuleExt(p string) bool {
	ext := path.Ext(p)
	for _, e := range moduleExts {
		if ext == e {
			return true
		}
	}
	return false
}

func trimModuleExt(p string) string {
	if hasModuleExt(p) {
		return strings.TrimSuffix(p, path.Ext(p))
	}
	return p
}

// NormalizeSourceFile returns the root-relative form of a local source path: "./pages/index.tsx".
func NormalizeSourceFile(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return "." + path.Clean("/"+strings.TrimPrefix(p, "./"))
}

// LocalID returns the module identity of a local source file, the extension is normalized to ".js".
func LocalID(sourceFile string) string {
	return trimModuleExt(NormalizeSourceFile(sourceFile)) + ".js"
}

// RemoteID returns the module identity of a remote url: "https://esm.sh/react" -> "/-/esm.sh/react.js".
// A port is kept as a path segment and a query is folded into the name.
func RemoteID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid remote url %q", rawURL)
	}
	name := trimModuleExt(strings.TrimSuffix(path.Clean("/"+u.Path), "/"))
	if name == "" {
		name = "/index"
	}
	if u.RawQuery != "" {
		name += fmt.Sprintf("_%016x", xxhash.Sum64String(u.RawQuery))[:9]
	}
	return "/-/" + strings.Replace(u.Host, ":", "/", 1) + name + ".js", nil
}

// servedBase returns the slash path of the module without the leading "./" or "/" and without the ".js" extension.
func servedBase(id string) string {
	if strings.HasPrefix(id, "/-/") {
		return strings.TrimSuffix(id[1:], ".js")
	}
	return strings.TrimSuffix(strings.TrimPrefix(id, "./"), ".js")
}

// ServedPath returns the url path the module is served at: "/pages/index.0a1b2c3d4.js" for local
// modules, the identity itself for remote modules. The version is a version token or a fingerprint.
func ServedPath(id string, version string) string {
	if strings.HasPrefix(id, "/-/") {
		return id
	}
	return "/" + servedBase(id) + "." + ShortFingerprint(version) + ".js"
}

// ModuleIDFromServedPath maps a served url path back to the module identity.
func ModuleIDFromServedPath(pathname string) string {
	if strings.HasPrefix(pathname, "/-/") {
		return pathname
	}
	pathname = strings.TrimPrefix(pathname, "/")
	if reHashJS.MatchString(pathname) {
		return "./" + pathname[:len(pathname)-13] + ".js"
	}
	return "./" + strings.TrimSuffix(pathname, ".js") + ".js"
}

// relativePath returns the relative path from the directory to the target, both slash paths relative to
// the same root. The result always starts with "./" or "../".
func relativePath(fromDir string, to string) string {
	from := splitPath(fromDir)
	target := splitPath(to)
	i := 0
	for i < len(from) && i < len(target)-1 && from[i] == target[i] {
		i++
	}
	var b strings.Builder
	if i == len(from) {
		b.WriteString("./")
	} else {
		for j := i; j < len(from); j++ {
			b.WriteString("../")
		}
	}
	b.WriteString(strings.Join(target[i:], "/"))
	return b.String()
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}
