package main

import "github.com/postjs/compiler/cli"

func main() {
	cli.Run()
}
