package cli

import (
	"fmt"
	"os"

	"github.com/postjs/compiler/build"
)

const helpMessage = "\033[30mpostjs - An incremental module compiler for web apps.\033[0m" + `

Usage: postjs [command] [options]

Commands:
  init [project-name]   Create a new app
  dev [app-dir]         Serve the app in "development" mode with hot module replacement
  build [app-dir]       Build the app in "production" mode

Options:
  --version, -v         Show the version
  --help, -h            Display this help message
`

func Run() {
	if len(os.Args) < 2 {
		fmt.Print(helpMessage)
		return
	}
	switch command := os.Args[1]; command {
	case "init":
		Init()
	case "dev":
		Dev()
	case "build":
		Build()
	case "version":
		fmt.Println("postjs " + build.VERSION)
	default:
		for _, arg := range os.Args[1:] {
			if arg == "--version" {
				fmt.Println("postjs " + build.VERSION)
				return
			}
			if arg == "-v" {
				fmt.Println(build.VERSION)
				return
			}
		}
		fmt.Print(helpMessage)
	}
}
