package build

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/postjs/compiler/internal/watch"
)

func TestInvalidate(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, cascadeFiles)
	env := newTestEnv(t, root, t.TempDir())
	ctx := context.Background()
	if _, err := env.ctx.Compile(ctx, "pages/index.js"); err != nil {
		t.Fatal(err)
	}

	var events []ChangeEvent
	inv := NewInvalidator(env.ctx, 0)
	inv.AddListener(func(e ChangeEvent) {
		events = append(events, e)
	})

	writeFiles(t, root, map[string]string{"components/b.js": "export const b = 2\n"})
	inv.invalidate(ctx, invalidation{sourceFile: "./components/b.js", kind: ChangeModify})
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %v", events)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ID < events[j].ID
	})
	for i, id := range []string{"./components/a.js", "./components/b.js", "./pages/index.js"} {
		e := events[i]
		if e.ID != id || e.Kind != ChangeModify || e.Fingerprint != mustModule(t, env.ctx, id).Fingerprint {
			t.Fatalf("invalid event %+v", e)
		}
	}

	// unchanged output emits nothing
	events = nil
	inv.invalidate(ctx, invalidation{sourceFile: "./components/b.js", kind: ChangeModify})
	if len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}

	// a new file is compiled once it is imported
	writeFiles(t, root, map[string]string{
		"components/c.js": "export const c = 2\n",
		"components/b.js": "import { c } from \"./c.js\"\nexport const b = c\n",
	})
	inv.invalidate(ctx, invalidation{sourceFile: "./components/c.js", kind: ChangeCreate})
	if len(events) != 0 {
		t.Fatalf("files not imported should be ignored, got %v", events)
	}
	inv.invalidate(ctx, invalidation{sourceFile: "./components/b.js", kind: ChangeModify})
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %v", events)
	}

	// removing a file
	events = nil
	if err := os.Remove(filepath.Join(root, "components", "c.js")); err != nil {
		t.Fatal(err)
	}
	inv.invalidate(ctx, invalidation{sourceFile: "./components/c.js", kind: ChangeRemove})
	if len(events) != 1 || events[0].ID != "./components/c.js" || events[0].Kind != ChangeRemove {
		t.Fatalf("invalid events %v", events)
	}
	if _, ok := env.ctx.Module("./components/c.js"); ok {
		t.Fatal("the removed module should not be served")
	}

	// the importer of the removed module fails on its next compile
	if _, err := env.ctx.Recompile(ctx, "components/b.js"); err == nil {
		t.Fatal("expected an error for the dangling import")
	}
}

func TestInvalidateRemovedThenCreated(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, cascadeFiles)
	env := newTestEnv(t, root, t.TempDir())
	ctx := context.Background()
	if _, err := env.ctx.Compile(ctx, "pages/index.js"); err != nil {
		t.Fatal(err)
	}

	var events []ChangeEvent
	inv := NewInvalidator(env.ctx, 0)
	inv.AddListener(func(e ChangeEvent) {
		events = append(events, e)
	})

	// the file exists again when the removal is handled
	writeFiles(t, root, map[string]string{"components/b.js": "export const b = 3\n"})
	inv.invalidate(ctx, invalidation{sourceFile: "./components/b.js", kind: ChangeRemove})
	for _, e := range events {
		if e.Kind != ChangeModify {
			t.Fatalf("invalid event %+v", e)
		}
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %v", events)
	}
}

func TestInvalidatorDebounce(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, cascadeFiles)
	env := newTestEnv(t, root, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := env.ctx.Compile(ctx, "pages/index.js"); err != nil {
		t.Fatal(err)
	}

	events := make(chan ChangeEvent, 16)
	inv := NewInvalidator(env.ctx, 50*time.Millisecond)
	inv.AddListener(func(e ChangeEvent) {
		events <- e
	})
	go inv.Run(ctx)

	writeFiles(t, root, map[string]string{"components/b.js": "export const b = 2\n"})
	for i := 0; i < 3; i++ {
		inv.HandleEvent(watch.Event{Path: "components/b.js", Kind: watch.Modify})
	}
	inv.HandleEvent(watch.Event{Path: "components/README", Kind: watch.Modify})
	inv.HandleEvent(watch.Event{Path: "types.d.ts", Kind: watch.Modify})

	var ids []string
	timeout := time.After(5 * time.Second)
	for len(ids) < 3 {
		select {
		case e := <-events:
			ids = append(ids, e.ID)
		case <-timeout:
			t.Fatalf("timeout, got %v", ids)
		}
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
	sort.Strings(ids)
	if strings.Join(ids, ",") != "./components/a.js,./components/b.js,./pages/index.js" {
		t.Fatalf("invalid events %v", ids)
	}
}

func TestInvalidateCreatedModules(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pages/index.js": "export default 1\n",
		"pages/bad.js":   "syntax error\n",
	})
	env := newTestEnv(t, root, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := env.ctx.Build(ctx); err == nil {
		t.Fatal("expected the compile error of bad.js")
	}

	events := make(chan ChangeEvent, 16)
	inv := NewInvalidator(env.ctx, 20*time.Millisecond)
	inv.AddListener(func(e ChangeEvent) {
		events <- e
	})
	go inv.Run(ctx)
	next := func() ChangeEvent {
		select {
		case e := <-events:
			return e
		case <-time.After(5 * time.Second):
			t.Fatal("timeout")
		}
		return ChangeEvent{}
	}

	// editors write a new file right after creating it, the events are coalesced
	writeFiles(t, root, map[string]string{"pages/new.js": "export default 2\n"})
	inv.HandleEvent(watch.Event{Path: "pages/new.js", Kind: watch.Create})
	inv.HandleEvent(watch.Event{Path: "pages/new.js", Kind: watch.Modify})
	if e := next(); e.ID != "./pages/new.js" || e.Kind != ChangeCreate {
		t.Fatalf("invalid event %+v", e)
	}
	if _, ok := env.ctx.Manifest().PageModules["/new"]; !ok {
		t.Fatal("the new page should be routed")
	}

	// a module compiled for the first time after an error is created too
	writeFiles(t, root, map[string]string{"pages/bad.js": "export default 3\n"})
	inv.HandleEvent(watch.Event{Path: "pages/bad.js", Kind: watch.Modify})
	if e := next(); e.ID != "./pages/bad.js" || e.Kind != ChangeCreate {
		t.Fatalf("invalid event %+v", e)
	}

	writeFiles(t, root, map[string]string{"pages/bad.js": "export default 4\n"})
	inv.HandleEvent(watch.Event{Path: "pages/bad.js", Kind: watch.Create})
	if e := next(); e.ID != "./pages/bad.js" || e.Kind != ChangeModify {
		t.Fatalf("invalid event %+v", e)
	}
}
