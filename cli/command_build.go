package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ije/gox/term"
	"github.com/postjs/compiler/build"
	"github.com/postjs/compiler/internal/storage"
)

const buildHelpMessage = `Build the app in "production" mode, the output is written to "outputDir" of postjs.config.json.

Usage: postjs build [app-dir] [options]

Arguments:
  app-dir      Directory of the app, default is current directory

Options:
  --help, -h   Show help message
`

// Build builds the app in production mode.
func Build() {
	args, help := parseCommandFlags()
	if help {
		fmt.Print(buildHelpMessage)
		return
	}

	appDir, err := resolveAppDir(args)
	if err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
		os.Exit(1)
	}
	config, err := build.LoadConfig(appDir)
	if err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
	}
	logger, err := initLogger(config, appDir, "build.log")
	if err != nil {
		os.Stderr.WriteString(term.Red("failed to initialize logger: "+err.Error()) + "\n")
		os.Exit(1)
	}
	defer logger.FlushBuffer()

	outputDir := config.OutputDir
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(appDir, outputDir)
	}
	n, err := buildApp(context.Background(), config.Options(appDir, "production"), outputDir)
	if err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
		logger.FlushBuffer()
		os.Exit(1)
	}
	fmt.Println(term.Green(fmt.Sprintf("%d modules written to %s", n, outputDir)))
}

// buildApp compiles the entries of the app, writes the modules and copies the public files to the output
// directory. It returns the number of modules written.
func buildApp(ctx context.Context, opts build.Options, outputDir string) (int, error) {
	bc, err := build.NewContext(opts)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	manifest, err := bc.Build(ctx)
	if err != nil {
		return 0, err
	}
	fmt.Println(term.Dim(routesSummary(bc, manifest)))
	if _, err := bc.CompileBootstrap(ctx); err != nil {
		return 0, err
	}
	n, err := bc.WriteDist(outputDir)
	if err != nil {
		return 0, err
	}
	if err := copyPublicFiles(filepath.Join(bc.Root(), "public"), outputDir); err != nil {
		return 0, err
	}
	fmt.Println(term.Dim(fmt.Sprintf("built in %v", time.Since(start).Round(time.Millisecond))))
	return n, nil
}

func copyPublicFiles(publicDir string, outputDir string) error {
	if _, err := os.Stat(publicDir); os.IsNotExist(err) {
		return nil
	}
	out, err := storage.NewFSStorage(&storage.StorageOptions{Endpoint: outputDir})
	if err != nil {
		return err
	}
	return filepath.WalkDir(publicDir, func(filename string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(publicDir, filename)
		if err != nil {
			return err
		}
		f, err := os.Open(filename)
		if err != nil {
			return err
		}
		defer f.Close()
		return out.Put(filepath.ToSlash(rel), f)
	})
}
