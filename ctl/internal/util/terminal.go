package util

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether f is connected to a terminal. Commands use it to avoid dumping binary
// file contents onto the user's screen.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
