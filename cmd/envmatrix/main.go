package main

import (
	"os"

	"envmatrix/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:]))
}
