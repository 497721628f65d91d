package cli

import (
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	logx "github.com/ije/gox/log"
	"github.com/postjs/compiler/build"
	"github.com/postjs/compiler/internal/storage"
	"github.com/postjs/compiler/internal/watch"
)

// parseCommandFlags parses the flags following the command, the flags and the arguments may be mixed:
// "postjs dev ./app --port 3000".
func parseCommandFlags() (args []string, help bool) {
	return parseFlags(flag.CommandLine, os.Args[2:])
}

func parseFlags(fs *flag.FlagSet, rawArgs []string) (args []string, help bool) {
	flags := make([]string, 0, len(rawArgs))
	for i := 0; i < len(rawArgs); i++ {
		arg := rawArgs[i]
		if arg == "-h" || arg == "--help" {
			help = true
			continue
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			args = append(args, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if strings.Contains(name, "=") {
			continue
		}
		if f := fs.Lookup(name); f != nil && !isBoolFlag(f) && i+1 < len(rawArgs) {
			i++
			flags = append(flags, rawArgs[i])
		}
	}
	fs.Parse(flags)
	return
}

func isBoolFlag(f *flag.Flag) bool {
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

// resolveAppDir returns the absolute app directory of the first argument, the working directory by default.
func resolveAppDir(args []string) (appDir string, err error) {
	if len(args) == 0 || args[0] == "" {
		return os.Getwd()
	}
	appDir, err = filepath.Abs(args[0])
	if err == nil {
		var fi os.FileInfo
		fi, err = os.Stat(appDir)
		if err == nil && !fi.IsDir() {
			err = fmt.Errorf("stat %s: not a directory", appDir)
		}
	}
	return
}

// initLogger creates the file logger of the command when a log directory is configured, and sets it to
// the packages logging.
func initLogger(config *build.Config, appDir string, name string) (*logx.Logger, error) {
	logger := &logx.Logger{}
	if config.LogDir != "" {
		logDir := config.LogDir
		if !filepath.IsAbs(logDir) {
			logDir = filepath.Join(appDir, logDir)
		}
		var err error
		logger, err = logx.New(fmt.Sprintf("file:%s?buffer=32k", path.Join(filepath.ToSlash(logDir), name)))
		if err != nil {
			return nil, err
		}
	}
	logger.SetLevelByName(config.LogLevel)
	build.SetLogger(logger)
	storage.SetLogger(logger)
	watch.SetLogger(logger)
	return logger, nil
}

// skipWatch ignores the cache, the output, the dependencies and the hidden directories of the app.
func skipWatch(config *build.Config) watch.SkipFunc {
	outputDir := path.Clean(filepath.ToSlash(config.OutputDir))
	return func(rel string, isDir bool) bool {
		name := path.Base(rel)
		if isDir {
			return (strings.HasPrefix(name, ".") && rel != ".") || name == "node_modules" || rel == outputDir
		}
		return strings.HasSuffix(name, ".d.ts")
	}
}

// routesSummary lists the page routes with the number of modules each one loads, then the api routes.
func routesSummary(ctx *build.Context, manifest *build.Manifest) string {
	routes := make([]string, 0, len(manifest.PageModules))
	for route := range manifest.PageModules {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	var b strings.Builder
	for _, route := range routes {
		n := len(ctx.Graph().Descendants(manifest.PageModules[route].ModuleID)) + 1
		unit := "modules"
		if n == 1 {
			unit = "module"
		}
		fmt.Fprintf(&b, "○ %s (%d %s)\n", route, n, unit)
	}
	for _, route := range ctx.APIRoutes() {
		fmt.Fprintf(&b, "λ %s\n", route)
	}
	fmt.Fprintf(&b, "%d modules in total", ctx.Graph().Len())
	return b.String()
}
