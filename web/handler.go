package web

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/ije/gox/set"
	"github.com/postjs/compiler/build"
	"github.com/postjs/compiler/internal/mime"
)

type Config struct {
	// AppDir is the directory of the static files, "public" of the source root for example.
	AppDir   string
	Fallback string
	Dev      bool
}

// Handler serves the compiled modules of a build context, the build manifest, the static files and the
// hot module replacement socket.
type Handler struct {
	config     *Config
	ctx        *build.Context
	etagSuffix string
	connsLock  sync.RWMutex
	conns      map[*websocket.Conn]*hmrConn
}

type hmrConn struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	watchList *set.Set[string]
}

func (c *hmrConn) send(msg string) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func NewHandler(config Config, ctx *build.Context) *Handler {
	if config.AppDir == "" {
		config.AppDir = filepath.Join(ctx.Root(), "public")
	}
	s := &Handler{
		config: &config,
		ctx:    ctx,
		conns:  make(map[*websocket.Conn]*hmrConn),
	}
	s.etagSuffix = "-" + build.VERSION
	if s.config.Dev {
		s.etagSuffix += "-dev"
	}
	return s
}

// Listen forwards the change events of the invalidator to the connected hmr clients.
func (s *Handler) Listen(inv *build.Invalidator) {
	inv.AddListener(s.broadcast)
}

func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pathname := r.URL.Path
	switch {
	case pathname == "/@hmr-ws":
		s.ServeHmrWS(w, r)
	case strings.HasSuffix(pathname, "/_dist/build-manifest.json"):
		s.ServeManifest(w, r)
	case strings.HasSuffix(pathname, ".js.map"):
		if m, ok := s.ctx.ModuleByPath(strings.TrimSuffix(pathname, ".map")); ok && len(m.SourceMap) > 0 {
			s.ServeSourceMap(w, r, m)
			return
		}
		s.ServeStatic(w, r, pathname)
	case strings.HasSuffix(pathname, ".js"):
		if m, ok := s.ctx.ModuleByPath(pathname); ok {
			s.ServeModule(w, r, m)
			return
		}
		s.ServeStatic(w, r, pathname)
	default:
		s.ServeStatic(w, r, pathname)
	}
}

// ServeModule serves the compiled module with its fingerprint as the etag, a path carrying the current
// version of the module is immutable in production.
func (s *Handler) ServeModule(w http.ResponseWriter, r *http.Request, m *build.Module) {
	etag := "\"" + m.Fingerprint + "\""
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	header := w.Header()
	header.Set("Content-Type", "application/javascript; charset=utf-8")
	if !s.config.Dev && !m.IsRemote && r.URL.Path == s.ctx.ServedPath(m) {
		header.Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		header.Set("Cache-Control", "max-age=0, must-revalidate")
	}
	header.Set("Etag", etag)
	if len(m.SourceMap) > 0 {
		header.Set("SourceMap", r.URL.Path+".map")
	}
	w.Write(m.Content)
}

func (s *Handler) ServeSourceMap(w http.ResponseWriter, r *http.Request, m *build.Module) {
	header := w.Header()
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set("Cache-Control", "max-age=0, must-revalidate")
	w.Write(m.SourceMap)
}

func (s *Handler) ServeManifest(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(s.ctx.Manifest())
	if err != nil {
		http.Error(w, "Internal Server Error", 500)
		return
	}
	header := w.Header()
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	w.Write(data)
}

// ServeStatic serves the files of the app directory. Directories are served by their index.html, a
// missing file falls back to the fallback file, then to 404.html.
func (s *Handler) ServeStatic(w http.ResponseWriter, r *http.Request, pathname string) {
	filename := filepath.Join(s.config.AppDir, filepath.FromSlash(pathname))
	fi, err := os.Lstat(filename)
	if err == nil && fi.IsDir() {
		if pathname != "/" && !strings.HasSuffix(pathname, "/") {
			http.Redirect(w, r, pathname+"/", http.StatusMovedPermanently)
			return
		}
		pathname = strings.TrimSuffix(pathname, "/") + "/index.html"
		filename = filepath.Join(s.config.AppDir, filepath.FromSlash(pathname))
		fi, err = os.Lstat(filename)
	}
	status := http.StatusOK
	if err != nil && os.IsNotExist(err) {
		if s.config.Fallback != "" {
			pathname = "/" + strings.TrimPrefix(s.config.Fallback, "/")
			filename = filepath.Join(s.config.AppDir, filepath.FromSlash(pathname))
			fi, err = os.Lstat(filename)
		} else {
			status = http.StatusNotFound
			pathname = "/404.html"
			filename = filepath.Join(s.config.AppDir, pathname)
			fi, err = os.Lstat(filename)
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "Not Found", 404)
		} else {
			http.Error(w, "Internal Server Error", 500)
		}
		return
	}
	if fi.IsDir() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	etag := fmt.Sprintf("w/\"%x-%x%s\"", fi.ModTime().UnixMilli(), fi.Size(), s.etagSuffix)
	if status == http.StatusOK && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	file, err := os.Open(filename)
	if err != nil {
		http.Error(w, "Internal Server Error", 500)
		return
	}
	defer file.Close()
	contentType := mime.TypeByFilename(filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := w.Header()
	header.Set("Content-Type", contentType)
	if status == http.StatusOK {
		header.Set("Cache-Control", "max-age=0, must-revalidate")
		header.Set("Etag", etag)
	}
	w.WriteHeader(status)
	io.Copy(w, file)
}

// ServeHmrWS accepts the "watch:<path>" messages of a client, the path is a module id or a served url
// path. Changes of the watched modules are sent as "create:<url>", "modify:<url>" and "remove:<id>".
func (s *Handler) ServeHmrWS(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") != "websocket" {
		http.Error(w, "Bad Request", 400)
		return
	}
	var upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &hmrConn{conn: conn, watchList: set.New[string]()}
	s.connsLock.Lock()
	s.conns[conn] = c
	s.connsLock.Unlock()
	defer func() {
		s.connsLock.Lock()
		delete(s.conns, conn)
		s.connsLock.Unlock()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg := string(data)
		if pathname, ok := strings.CutPrefix(msg, "watch:"); ok && pathname != "" {
			id, ok := s.watchID(pathname)
			if !ok {
				c.send("error:could not watch " + pathname)
				continue
			}
			c.watchList.Add(id)
		}
	}
}

func (s *Handler) watchID(pathname string) (string, bool) {
	pathname, _, _ = strings.Cut(pathname, "?")
	if strings.HasPrefix(pathname, "./") {
		return build.LocalID(pathname), true
	}
	return s.ctx.ModuleIDByPath(pathname)
}

func (s *Handler) broadcast(e build.ChangeEvent) {
	msg := e.Kind.String() + ":" + e.ID
	if e.Kind != build.ChangeRemove {
		msg = e.Kind.String() + ":" + s.ctx.ServedPath(&build.Module{ID: e.ID, Fingerprint: e.Fingerprint, Version: e.Version})
	}
	s.connsLock.RLock()
	defer s.connsLock.RUnlock()
	for _, c := range s.conns {
		if c.watchList.Has(e.ID) {
			c.send(msg)
		}
	}
}
