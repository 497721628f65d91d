package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	logx "github.com/ije/gox/log"
)

var log = &logx.Logger{}

func SetLogger(logger *logx.Logger) {
	log = logger
}

// EventKind is the kind of a file change.
type EventKind int

const (
	Create EventKind = iota
	Modify
	Remove
)

func (k EventKind) String() string {
	switch k {
	case Create:
		return "create"
	case Remove:
		return "remove"
	default:
		return "modify"
	}
}

// Event is a change of a file, Path is the slash path relative to the watched root.
type Event struct {
	Path string
	Kind EventKind
}

// SkipFunc reports whether a file or a directory is ignored.
type SkipFunc func(rel string, isDir bool) bool

// FSWatcher watches a directory tree, directories created later are watched as well.
type FSWatcher struct {
	root    string
	skip    SkipFunc
	watcher *fsnotify.Watcher
	events  chan Event
}

func NewFSWatcher(root string, skip SkipFunc) (*FSWatcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if skip == nil {
		skip = func(string, bool) bool { return false }
	}
	w := &FSWatcher{
		root:    root,
		skip:    skip,
		watcher: watcher,
		events:  make(chan Event, 64),
	}
	if err := w.addRecursive(root); err != nil {
		watcher.Close()
		return nil, err
	}
	return w, nil
}

// Events returns the channel of file changes, it is closed when Run returns.
func (w *FSWatcher) Events() <-chan Event {
	return w.events
}

func (w *FSWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(filename string, d fs.DirEntry, err error) error {
		if err != nil {
			// the directory may be removed while walking
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if filename != w.root && w.skip(w.rel(filename), true) {
			return filepath.SkipDir
		}
		return w.watcher.Add(filename)
	})
}

func (w *FSWatcher) rel(filename string) string {
	rel, err := filepath.Rel(w.root, filename)
	if err != nil {
		return filename
	}
	return filepath.ToSlash(rel)
}

// Run forwards the file changes until the context is done.
func (w *FSWatcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watch: %v", err)
		case e, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, e)
		}
	}
}

func (w *FSWatcher) handle(ctx context.Context, e fsnotify.Event) {
	rel := w.rel(e.Name)

	var kind EventKind
	switch {
	case e.Has(fsnotify.Create):
		fi, err := os.Lstat(e.Name)
		if err != nil {
			return
		}
		if fi.IsDir() {
			if !w.skip(rel, true) {
				if err := w.addRecursive(e.Name); err != nil {
					log.Warnf("watch %s: %v", rel, err)
				}
				w.emitTree(ctx, e.Name)
			}
			return
		}
		kind = Create
	case e.Has(fsnotify.Write):
		kind = Modify
	case e.Has(fsnotify.Remove), e.Has(fsnotify.Rename):
		kind = Remove
	default:
		return
	}

	if w.skip(rel, false) {
		return
	}
	select {
	case w.events <- Event{Path: rel, Kind: kind}:
	case <-ctx.Done():
	}
}

// emitTree emits create events for the files of a directory moved into the tree.
func (w *FSWatcher) emitTree(ctx context.Context, dir string) {
	filepath.WalkDir(dir, func(filename string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := w.rel(filename)
		if d.IsDir() {
			if w.skip(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.skip(rel, false) {
			return nil
		}
		select {
		case w.events <- Event{Path: rel, Kind: Create}:
		case <-ctx.Done():
			return filepath.SkipAll
		}
		return nil
	})
}
