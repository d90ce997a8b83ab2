package main

import (
	"os"

	"github.com/kilianp07/evtelemetry/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
