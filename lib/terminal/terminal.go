// Package terminal provides VT100 terminal codes for the progress display.
package terminal

import (
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// VT100 codes
const (
	EraseLine         = "\x1b[2K"
	MoveToStartOfLine = "\x1b[1G"
	MoveUp            = "\x1b[1A"
)

var (
	// Out is an io.Writer which can be used to write to the terminal
	Out io.Writer

	// make sure that start is only called once
	once sync.Once
)

// Start the terminal - must be called before use
func Start() {
	once.Do(func() {
		Out = os.Stderr
	})
}

// IsTerminal returns whether the fd passed in is a terminal
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// GetSize returns the width and height of the terminal, or sensible
// defaults if it can't be measured
func GetSize() (w, h int) {
	w, h, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		w, h = 80, 25
	}
	return w, h
}

// Write sends out to the VT100 terminal.
// It will initialise the terminal if this is the first call.
func Write(out []byte) {
	Start()
	_, _ = Out.Write(out)
}

// WriteString writes the string passed in to the terminal
func WriteString(s string) {
	Write([]byte(s))
}
