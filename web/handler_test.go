package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/postjs/compiler/build"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		filename := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestServer(t *testing.T, dev bool) (*build.Context, *Handler, *httptest.Server) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pages/index.js":     "import { a } from \"../components/a.js\"\nexport default a\n",
		"components/a.js":    "export const a = 1\n",
		"public/index.html":  "<!DOCTYPE html>\n",
		"public/404.html":    "<h1>Not Found</h1>\n",
		"public/favicon.ico": "ico",
	})
	mode := "production"
	if dev {
		mode = "development"
	}
	ctx, err := build.NewContext(build.Options{
		Root:      root,
		Mode:      mode,
		CacheDir:  t.TempDir(),
		SourceMap: dev,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(Config{Dev: dev}, ctx)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return ctx, h, srv
}

func get(t *testing.T, url string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return res, string(body)
}

func TestServeModule(t *testing.T) {
	ctx, _, srv := newTestServer(t, true)
	m, ok := ctx.Module("./pages/index.js")
	if !ok {
		t.Fatal("the page is not compiled")
	}

	res, body := get(t, srv.URL+ctx.ServedPath(m), nil)
	if res.StatusCode != 200 || body != string(m.Content) {
		t.Fatalf("invalid response %d:\n%s", res.StatusCode, body)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/javascript; charset=utf-8" {
		t.Fatalf("invalid content type %s", ct)
	}
	if cc := res.Header.Get("Cache-Control"); cc != "max-age=0, must-revalidate" {
		t.Fatalf("invalid cache control %s", cc)
	}
	etag := res.Header.Get("Etag")
	if etag != "\""+m.Fingerprint+"\"" {
		t.Fatalf("invalid etag %s", etag)
	}

	res, _ = get(t, srv.URL+ctx.ServedPath(m), map[string]string{"If-None-Match": etag})
	if res.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", res.StatusCode)
	}

	// the modules are served under "/_dist" too
	res, body = get(t, srv.URL+"/_dist"+ctx.ServedPath(m), nil)
	if res.StatusCode != 200 || body != string(m.Content) {
		t.Fatalf("invalid response %d", res.StatusCode)
	}

	mapPath := res.Header.Get("SourceMap")
	if mapPath != "/_dist"+ctx.ServedPath(m)+".map" {
		t.Fatalf("invalid source map header %q", mapPath)
	}
	res, body = get(t, srv.URL+mapPath, nil)
	if res.StatusCode != 200 || !strings.Contains(body, "pages/index.js") {
		t.Fatalf("invalid source map %d:\n%s", res.StatusCode, body)
	}
}

func TestServeModuleProduction(t *testing.T) {
	ctx, _, srv := newTestServer(t, false)
	m, _ := ctx.Module("./pages/index.js")

	res, _ := get(t, srv.URL+ctx.ServedPath(m), nil)
	if cc := res.Header.Get("Cache-Control"); cc != "public, max-age=31536000, immutable" {
		t.Fatalf("invalid cache control %s", cc)
	}
	if res.Header.Get("SourceMap") != "" {
		t.Fatal("production builds have no source maps")
	}

	// a stale version is served with the current content but never cached
	res, body := get(t, srv.URL+"/pages/index.000000000.js", nil)
	if res.StatusCode != 200 || body != string(m.Content) {
		t.Fatalf("invalid response %d", res.StatusCode)
	}
	if cc := res.Header.Get("Cache-Control"); cc != "max-age=0, must-revalidate" {
		t.Fatalf("invalid cache control %s", cc)
	}
}

func TestServeManifest(t *testing.T) {
	ctx, _, srv := newTestServer(t, true)
	m, _ := ctx.Module("./pages/index.js")

	res, body := get(t, srv.URL+"/_dist/build-manifest.json", nil)
	if res.StatusCode != 200 {
		t.Fatalf("invalid status %d", res.StatusCode)
	}
	var manifest build.Manifest
	if err := json.Unmarshal([]byte(body), &manifest); err != nil {
		t.Fatal(err)
	}
	if page, ok := manifest.PageModules["/"]; !ok || page.ModuleID != "./pages/index.js" || page.Hash != m.Fingerprint {
		t.Fatalf("invalid manifest %s", body)
	}
}

func TestServeStatic(t *testing.T) {
	_, _, srv := newTestServer(t, true)

	res, body := get(t, srv.URL+"/", nil)
	if res.StatusCode != 200 || body != "<!DOCTYPE html>\n" || res.Header.Get("Content-Type") != "text/html; charset=utf-8" {
		t.Fatalf("invalid response %d: %s", res.StatusCode, body)
	}
	etag := res.Header.Get("Etag")
	res, _ = get(t, srv.URL+"/", map[string]string{"If-None-Match": etag})
	if res.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", res.StatusCode)
	}

	res, _ = get(t, srv.URL+"/favicon.ico", nil)
	if res.StatusCode != 200 || res.Header.Get("Content-Type") != "image/x-icon" {
		t.Fatalf("invalid response %d", res.StatusCode)
	}

	res, body = get(t, srv.URL+"/missing", nil)
	if res.StatusCode != 404 || body != "<h1>Not Found</h1>\n" {
		t.Fatalf("invalid response %d: %s", res.StatusCode, body)
	}
	res, _ = get(t, srv.URL+"/pages/missing.123456789.js", nil)
	if res.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestHmrWS(t *testing.T) {
	ctx, h, srv := newTestServer(t, true)
	inv := build.NewInvalidator(ctx, 10*time.Millisecond)
	h.Listen(inv)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inv.Run(runCtx)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/@hmr-ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	read := func() string {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		return string(data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("watch:./pages/index.tsx")); err != nil {
		t.Fatal(err)
	}
	// messages are handled in order, the error confirms the watch above
	if err := conn.WriteMessage(websocket.TextMessage, []byte("watch:/logo.png")); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg != "error:could not watch /logo.png" {
		t.Fatalf("invalid message %q", msg)
	}

	writeFiles(t, ctx.Root(), map[string]string{"components/a.js": "export const a = 2\n"})
	inv.Notify("components/a.js", build.ChangeModify)
	msg := read()
	m, _ := ctx.Module("./pages/index.js")
	if msg != "modify:"+ctx.ServedPath(m) {
		t.Fatalf("invalid message %q", msg)
	}

	if err := os.Remove(filepath.Join(ctx.Root(), "pages", "index.js")); err != nil {
		t.Fatal(err)
	}
	inv.Notify("pages/index.js", build.ChangeRemove)
	if msg := read(); msg != "remove:./pages/index.js" {
		t.Fatalf("invalid message %q", msg)
	}
}
