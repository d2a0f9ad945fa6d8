package main

import (
	"os"

	"github.com/clawinfra/toolgate/internal/cli"
)

var version = "0.1.0"

func main() {
	os.Exit(cli.Execute(version))
}
