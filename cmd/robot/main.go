package main

import (
	"os"

	"autotrader/cmd/robot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
