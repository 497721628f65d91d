package build

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/postjs/compiler/internal/watch"
)

// ChangeKind is the kind of a module change.
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota
	ChangeModify
	ChangeRemove
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "create"
	case ChangeRemove:
		return "remove"
	default:
		return "modify"
	}
}

// ChangeEvent is emitted for every module whose fingerprint changed after a file change. A module
// without a previous finalized version is created, a new file or a fixed compile error for example.
type ChangeEvent struct {
	ID          string
	Kind        ChangeKind
	Fingerprint string
	Version     string
}

// Listener receives change events, for example a hot module replacement transport.
type Listener func(e ChangeEvent)

type invalidation struct {
	sourceFile string
	kind       ChangeKind
}

// Invalidator debounces file changes per module and runs them one at a time, recompiling the changed
// module and every module importing it.
type Invalidator struct {
	ctx       *Context
	delay     time.Duration
	scheduler *watch.Scheduler
	jobs      chan invalidation
	stopped   chan struct{}
	lock      sync.RWMutex
	listeners []Listener
}

// NewInvalidator creates an invalidator, the delay defaults to 150ms.
func NewInvalidator(ctx *Context, delay time.Duration) *Invalidator {
	if delay <= 0 {
		delay = 150 * time.Millisecond
	}
	return &Invalidator{
		ctx:       ctx,
		delay:     delay,
		scheduler: watch.NewScheduler(),
		jobs:      make(chan invalidation, 64),
		stopped:   make(chan struct{}),
	}
}

func (inv *Invalidator) AddListener(l Listener) {
	inv.lock.Lock()
	defer inv.lock.Unlock()
	inv.listeners = append(inv.listeners, l)
}

func (inv *Invalidator) emit(e ChangeEvent) {
	inv.lock.RLock()
	defer inv.lock.RUnlock()
	for _, l := range inv.listeners {
		l(e)
	}
}

// Notify schedules the invalidation of the source file, changes of the same module within the delay
// are coalesced into one.
func (inv *Invalidator) Notify(sourceFile string, kind ChangeKind) {
	sourceFile = NormalizeSourceFile(sourceFile)
	inv.scheduler.Arm(LocalID(sourceFile), inv.delay, func() {
		select {
		case inv.jobs <- invalidation{sourceFile: sourceFile, kind: kind}:
		case <-inv.stopped:
		}
	})
}

// HandleEvent maps a file change of the source tree to an invalidation.
func (inv *Invalidator) HandleEvent(e watch.Event) {
	if !isWatchedSource(e.Path) {
		return
	}
	switch e.Kind {
	case watch.Create:
		inv.Notify(e.Path, ChangeCreate)
	case watch.Remove:
		inv.Notify(e.Path, ChangeRemove)
	default:
		inv.Notify(e.Path, ChangeModify)
	}
}

func isWatchedSource(p string) bool {
	if strings.HasSuffix(p, ".d.ts") {
		return false
	}
	return hasModuleExt(p) || path.Ext(p) == ".css"
}

// Run processes the invalidations until the context is done.
func (inv *Invalidator) Run(ctx context.Context) {
	defer close(inv.stopped)
	defer inv.scheduler.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-inv.jobs:
			inv.invalidate(ctx, job)
		}
	}
}

// Watch feeds the file changes of the watcher into the invalidator until the context is done.
func (inv *Invalidator) Watch(ctx context.Context, w *watch.FSWatcher) {
	go inv.Run(ctx)
	for e := range w.Events() {
		inv.HandleEvent(e)
	}
}

func (inv *Invalidator) invalidate(ctx context.Context, job invalidation) {
	id := LocalID(job.sourceFile)
	start := time.Now()

	if job.kind == ChangeRemove {
		if _, err := os.Stat(filepath.Join(inv.ctx.root, filepath.FromSlash(job.sourceFile))); err == nil {
			// removed and created again within the delay, an editor saving by rename for example
			job.kind = ChangeModify
		} else {
			m, importers := inv.ctx.Remove(job.sourceFile)
			if m == nil {
				return
			}
			if len(importers) > 0 {
				log.Warnf("%s is removed but still imported by %s", id, strings.Join(importers, ", "))
			}
			inv.emit(ChangeEvent{ID: id, Kind: ChangeRemove})
			return
		}
	}

	p, err := inv.ctx.recompile(ctx, job.sourceFile)
	if err != nil {
		log.Errorf("%s: %v", id, err)
	}
	if p == nil {
		return
	}
	for _, m := range p.changed {
		kind := ChangeModify
		if p.created.Has(m.ID) {
			kind = ChangeCreate
		}
		inv.emit(ChangeEvent{ID: m.ID, Kind: kind, Fingerprint: m.Fingerprint, Version: m.Version})
	}
	if len(p.changed) > 0 {
		log.Debugf("%s %s, %d modules updated in %v", id, job.kind, len(p.changed), time.Since(start))
	}
}
