package cli

import (
	"bufio"
	"bytes"
	"embed"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ije/gox/term"
)

//go:embed template
var efs embed.FS

// matches the props annotation of a component: "({ size }: { size?: number })"
var reTypeAnnotation = regexp.MustCompile(`\}: \{[^)]*\)`)

const initHelpMessage = `Create a new app.

Usage: postjs init [project-name] [options]

Arguments:
  project-name   Directory of the new app, asked when omitted

Options:
  --lang         "ts" or "js", default is "ts"
  --force        Overwrite the existing directory
  --help, -h     Show help message
`

// lineRaw reads the terminal in line mode, the enter key is reported as a carriage return.
type lineRaw struct {
	r *bufio.Reader
}

func (raw *lineRaw) Next() byte {
	c, err := raw.r.ReadByte()
	if err != nil {
		return 3
	}
	if c == '\n' {
		return 13
	}
	return c
}

// Init creates a new app from the embedded template.
func Init() {
	lang := flag.String("lang", "ts", "language variant")
	force := flag.Bool("force", false, "overwrite the existing directory")
	args, help := parseCommandFlags()
	if help {
		fmt.Print(initHelpMessage)
		return
	}

	var projectName string
	if len(args) > 0 {
		projectName = args[0]
	} else {
		projectName = term.Input(&lineRaw{r: bufio.NewReader(os.Stdin)}, "Project name:", "postjs-app")
	}
	if _, err := os.Lstat(projectName); err == nil && !*force {
		os.Stderr.WriteString(term.Red(projectName+" already exists, use --force to overwrite it") + "\n")
		os.Exit(1)
	}

	if err := writeTemplate(projectName, *lang == "js"); err != nil {
		os.Stderr.WriteString(term.Red(err.Error()) + "\n")
		os.Exit(1)
	}
	fmt.Println(term.Green("✔ ") + "Project created in " + projectName)
	fmt.Println(term.Dim("  cd " + projectName + " && postjs dev"))
}

// writeTemplate copies the template to the directory, the typescript sources are renamed to javascript
// when plain is set.
func writeTemplate(dir string, plain bool) error {
	return walkEmbedFS("template", func(filename string) error {
		data, err := efs.ReadFile(filename)
		if err != nil {
			return err
		}
		savePath := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(filename, "template/")))
		if plain {
			switch filepath.Ext(savePath) {
			case ".tsx":
				savePath = strings.TrimSuffix(savePath, ".tsx") + ".jsx"
				data = stripTypes(data)
			case ".ts":
				savePath = strings.TrimSuffix(savePath, ".ts") + ".js"
				data = stripTypes(data)
			}
		}
		if err := os.MkdirAll(filepath.Dir(savePath), 0755); err != nil {
			return err
		}
		return os.WriteFile(savePath, data, 0644)
	})
}

// stripTypes removes the type annotations of the template components and renames the imports.
func stripTypes(data []byte) []byte {
	data = reTypeAnnotation.ReplaceAll(data, []byte("})"))
	data = bytes.ReplaceAll(data, []byte(".tsx\""), []byte(".jsx\""))
	return bytes.ReplaceAll(data, []byte(".ts\""), []byte(".js\""))
}

func walkEmbedFS(dir string, callback func(filename string) error) error {
	entries, err := efs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			err = walkEmbedFS(dir+"/"+entry.Name(), callback)
		} else {
			err = callback(dir + "/" + entry.Name())
		}
		if err != nil {
			return err
		}
	}
	return nil
}
