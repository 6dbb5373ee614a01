package main

import (
	"os"

	"github.com/thinkparq/docfs/ctl/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
