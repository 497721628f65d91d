package build

import (
	"net/url"
	"path"
	"testing"
)

func TestLocalID(t *testing.T) {
	tests := map[string]string{
		"./pages/index.tsx":  "./pages/index.js",
		"pages/index.tsx":    "./pages/index.js",
		"/pages/index.jsx":   "./pages/index.js",
		"./lib/util.ts":      "./lib/util.js",
		"./lib/util.mjs":     "./lib/util.js",
		"./styles/app.css":   "./styles/app.css.js",
		"./pages/../app.tsx": "./app.js",
	}
	for file, expected := range tests {
		if id := LocalID(file); id != expected {
			t.Fatalf("LocalID(%q) = %q, expected %q", file, id, expected)
		}
	}
}

func TestRemoteID(t *testing.T) {
	tests := map[string]string{
		"https://esm.sh/react":                 "/-/esm.sh/react.js",
		"https://esm.sh/react@18.2.0/index.js": "/-/esm.sh/react@18.2.0/index.js",
		"https://cdn.example.com/ui/button.tsx": "/-/cdn.example.com/ui/button.js",
		"http://localhost:8080/mod.ts":          "/-/localhost/8080/mod.js",
		"https://esm.sh/":                       "/-/esm.sh/index.js",
	}
	for u, expected := range tests {
		id, err := RemoteID(u)
		if err != nil {
			t.Fatal(err)
		}
		if id != expected {
			t.Fatalf("RemoteID(%q) = %q, expected %q", u, id, expected)
		}
	}

	a, _ := RemoteID("https://esm.sh/react?target=es2020")
	b, _ := RemoteID("https://esm.sh/react?target=es2022")
	if a == b || a == "/-/esm.sh/react.js" {
		t.Fatalf("query should be folded into the identity, got %q and %q", a, b)
	}

	if _, err := RemoteID("react"); err == nil {
		t.Fatal("Expected error, but got nil")
	}
}

func TestServedPath(t *testing.T) {
	fp := Fingerprint([]byte("x"))
	if p := ServedPath("./pages/index.js", fp); p != "/pages/index."+fp[:9]+".js" {
		t.Fatalf("invalid served path %q", p)
	}
	if p := ServedPath("/-/esm.sh/react.js", fp); p != "/-/esm.sh/react.js" {
		t.Fatalf("invalid served path %q", p)
	}
	if id := ModuleIDFromServedPath("/pages/index." + fp[:9] + ".js"); id != "./pages/index.js" {
		t.Fatalf("invalid module id %q", id)
	}
	if id := ModuleIDFromServedPath("/pages/index.xxxxxxxxx.js"); id != "./pages/index.js" {
		t.Fatalf("invalid module id %q", id)
	}
	if id := ModuleIDFromServedPath("/-/esm.sh/react.js"); id != "/-/esm.sh/react.js" {
		t.Fatalf("invalid module id %q", id)
	}
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected string
	}{
		{"pages", "components/logo", "../components/logo"},
		{"pages", "pages/about", "./about"},
		{"", "lib/util", "./lib/util"},
		{"pages/blog", "app", "../../app"},
		{"pages", "-/esm.sh/react.js", "../-/esm.sh/react.js"},
		{"-/esm.sh", "-/esm.sh/react@18/index.js", "./react@18/index.js"},
		{"-/esm.sh/react@18", "-/cdn.example.com/a.js", "../../cdn.example.com/a.js"},
	}
	for _, tt := range tests {
		if p := relativePath(tt.from, tt.to); p != tt.expected {
			t.Fatalf("relativePath(%q, %q) = %q, expected %q", tt.from, tt.to, p, tt.expected)
		}
		// resolving the relative path against the directory yields the target
		base, _ := url.Parse("http://localhost/" + tt.from + "/")
		if tt.from == "" {
			base, _ = url.Parse("http://localhost/")
		}
		ref, _ := url.Parse(tt.expected)
		if got := base.ResolveReference(ref).Path; got != path.Join("/", tt.to) {
			t.Fatalf("%q resolved against %q is %q, expected %q", tt.expected, tt.from, got, "/"+tt.to)
		}
	}
}
