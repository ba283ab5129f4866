package cmd

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gphotos2immich/gphotos2immich/lib/terminal"
	"github.com/gphotos2immich/gphotos2immich/pipeline"
)

// interval between progress prints
const progressInterval = 500 * time.Millisecond

var (
	progressMu    sync.Mutex
	progressStats *pipeline.Stats
	nlines        = 0 // number of lines in the previous stats block
)

// printProgress redraws the stats block at the bottom of the
// terminal, optionally printing a log message above it.
func printProgress(logMessage string) {
	progressMu.Lock()
	defer progressMu.Unlock()

	var buf strings.Builder
	w, _ := terminal.GetSize()
	stats := strings.TrimSpace(progressStats.String())
	logMessage = strings.TrimSpace(logMessage)

	out := func(s string) {
		buf.WriteString(s)
	}

	if logMessage != "" {
		out("\n")
		out(terminal.MoveUp)
	}
	// Move to the start of the block we wrote last time and remove it
	for i := 0; i < nlines-1; i++ {
		out(terminal.MoveUp)
	}
	out(terminal.MoveToStartOfLine)
	out(terminal.EraseLine)

	if logMessage != "" {
		out(logMessage + "\n")
	}

	fixedLines := strings.Split(stats, "\n")
	nlines = len(fixedLines)
	for i, line := range fixedLines {
		if len(line) > w {
			line = line[:w]
		}
		out(line)
		if i != nlines-1 {
			out("\n")
		}
	}
	terminal.WriteString(buf.String())
}

// progressWriter routes log output above the progress block so the
// block stays at the bottom of the screen.
type progressWriter struct{}

func (progressWriter) Write(p []byte) (n int, err error) {
	printProgress(string(p))
	return len(p), nil
}

// startProgress starts the periodic progress display.
//
// It returns a func which must be called to stop it.  On a
// non-terminal stderr it does nothing.
func startProgress(stats *pipeline.Stats) func() {
	if !terminal.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}
	progressStats = stats
	logrus.SetOutput(progressWriter{})
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				printProgress("")
			case <-stop:
				printProgress("")
				fmt.Fprintln(terminal.Out)
				return
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
		logrus.SetOutput(os.Stderr)
	}
}
