package cli

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/postjs/compiler/build"
)

func TestParseFlags(t *testing.T) {
	fs := flag.NewFlagSet("dev", flag.ContinueOnError)
	port := fs.Int("port", 0, "")
	force := fs.Bool("force", false, "")
	args, help := parseFlags(fs, []string{"./app", "--port", "3000", "--force", "extra"})
	if help || strings.Join(args, ",") != "./app,extra" || *port != 3000 || !*force {
		t.Fatalf("invalid parse result %v %v %d %v", args, help, *port, *force)
	}

	fs = flag.NewFlagSet("dev", flag.ContinueOnError)
	port = fs.Int("port", 0, "")
	args, help = parseFlags(fs, []string{"--port=8000", "-h"})
	if !help || len(args) != 0 || *port != 8000 {
		t.Fatalf("invalid parse result %v %v %d", args, help, *port)
	}
}

func TestSkipWatch(t *testing.T) {
	skip := skipWatch(build.DefaultConfig())
	for rel, skipped := range map[string]bool{
		".git":              true,
		"pages/.cache":      true,
		"node_modules":      true,
		"dist":              true,
		"pages":             false,
		"components/button": false,
	} {
		if skip(rel, true) != skipped {
			t.Fatalf("invalid skip of %s", rel)
		}
	}
	if !skip("types/global.d.ts", false) || skip("pages/index.tsx", false) {
		t.Fatal("invalid skip of files")
	}
}

func TestWriteTemplate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app")
	if err := writeTemplate(dir, true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "components", "logo.jsx"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "number") || !strings.Contains(string(data), "({ size = 75 })") {
		t.Fatalf("the types should be removed:\n%s", data)
	}
	data, err = os.ReadFile(filepath.Join(dir, "pages", "index.jsx"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"../components/logo.jsx"`) {
		t.Fatalf("the imports should be renamed:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "public", "index.html")); err != nil {
		t.Fatal(err)
	}
}

func TestBuildApp(t *testing.T) {
	dir := t.TempDir()
	if err := writeTemplate(dir, false); err != nil {
		t.Fatal(err)
	}
	// no network in tests, the remote imports are kept as they are
	config, err := build.LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	opts := config.Options(dir, "production")
	opts.CacheRemote = false
	opts.CacheDir = t.TempDir()

	outputDir := filepath.Join(t.TempDir(), "dist")
	n, err := buildApp(context.Background(), opts, outputDir)
	if err != nil {
		t.Fatal(err)
	}
	// app, style, two pages, logo and the bootstrap module
	if n != 6 {
		t.Fatalf("expected 6 modules, got %d", n)
	}
	for _, name := range []string{"index.html", "logo.svg", "_dist/main.js", "_dist/build-manifest.json"} {
		if _, err := os.Stat(filepath.Join(outputDir, filepath.FromSlash(name))); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRoutesSummary(t *testing.T) {
	root := t.TempDir()
	for name, content := range map[string]string{
		"pages/index.js":     "export default 1\n",
		"pages/about.js":     "import x from \"../components/x.js\"\nexport default x\n",
		"components/x.js":    "export default 2\n",
		"api/users/index.js": "export default function handler() {}\n",
	} {
		filename := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	ctx, err := build.NewContext(build.Options{Root: root, CacheDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := ctx.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	summary := routesSummary(ctx, manifest)
	for _, line := range []string{"○ / (1 module)", "○ /about (2 modules)", "λ /api/users", "4 modules in total"} {
		if !strings.Contains(summary, line) {
			t.Fatalf("missing %q in summary:\n%s", line, summary)
		}
	}
}
