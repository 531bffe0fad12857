package main

import (
	"os"

	"github.com/natlabio/natlab/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
