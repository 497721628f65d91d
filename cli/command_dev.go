package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ije/gox/term"
	"github.com/postjs/compiler/build"
	"github.com/postjs/compiler/internal/watch"
	"github.com/postjs/compiler/web"
)

const devHelpMessage = `Serve the app in "development" mode, modules are recompiled on change and pushed to the browser.

Usage: postjs dev [app-dir] [options]

Arguments:
  app-dir      Directory of the app, default is current directory

Options:
  --port       Port to serve on, default is 8080 or "port" of postjs.config.json
  --help, -h   Show help message
`

// Dev serves the app in development mode.
func Dev() {
	port := flag.Int("port", 0, "port to serve on")
	args, help := parseCommandFlags()
	if help {
		fmt.Print(devHelpMessage)
		return
	}

	appDir, err := resolveAppDir(args)
	if err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
		return
	}
	config, err := build.LoadConfig(appDir)
	if err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
	}
	if *port > 0 {
		config.Port = uint16(*port)
	}
	logger, err := initLogger(config, appDir, "dev.log")
	if err != nil {
		os.Stderr.WriteString(term.Red("failed to initialize logger: "+err.Error()) + "\n")
		return
	}
	defer logger.FlushBuffer()

	ctx, err := build.NewContext(config.Options(appDir, "development"))
	if err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
		return
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	manifest, err := ctx.Build(runCtx)
	if err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
	}
	if _, err := ctx.CompileBootstrap(runCtx); err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
	}
	if manifest != nil {
		fmt.Println(term.Dim(routesSummary(ctx, manifest)))
		fmt.Println(term.Dim(fmt.Sprintf("compiled in %v", time.Since(start).Round(time.Millisecond))))
	}

	watcher, err := watch.NewFSWatcher(ctx.Root(), skipWatch(config))
	if err != nil {
		os.Stderr.WriteString(term.Red("failed to watch "+ctx.Root()+": "+err.Error()) + "\n")
		return
	}
	go watcher.Run(runCtx)

	inv := build.NewInvalidator(ctx, time.Duration(config.Debounce)*time.Millisecond)
	inv.AddListener(func(e build.ChangeEvent) {
		switch e.Kind {
		case build.ChangeCreate, build.ChangeRemove:
			// an entry may be added or removed
			if _, err := ctx.CompileBootstrap(runCtx); err != nil {
				logger.Errorf("bootstrap: %v", err)
			}
		}
		logger.Debugf("%s %s", e.Kind, e.ID)
	})
	handler := web.NewHandler(web.Config{AppDir: filepath.Join(ctx.Root(), "public"), Dev: true}, ctx)
	handler.Listen(inv)
	go inv.Watch(runCtx, watcher)

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: handler,
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
		return
	}
	go func() {
		<-runCtx.Done()
		s.Close()
	}()

	fmt.Printf(term.Green("Server is ready on http://localhost:%d\n"), config.Port)
	err = s.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
	}
}
