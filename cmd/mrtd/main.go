package main

import (
	"os"

	"github.com/nestroute/mrtd/cmd"
)

func main() {
	if err := cmd.CmdMrtd.Execute(); err != nil {
		os.Exit(1)
	}
}
