package main

import (
	"os"

	"github.com/0xAungkon/RunnerPilot/cmd/runnerpilot/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
