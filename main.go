package main

import (
	"os"

	"github.com/schedtools/schedtools/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
