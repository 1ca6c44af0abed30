package main

import (
	"os"

	"github.com/roach88/tagflow/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	os.Exit(cli.GetExitCode(err))
}
