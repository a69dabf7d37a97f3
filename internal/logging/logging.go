// Package logging configures the process logger.
// Packages log through logrus directly; this only sets level and format.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Setup configures the standard logrus logger. Verbose enables debug output.
// Text output is used on a terminal, JSON otherwise, so piped runs stay machine-readable.
func Setup(w io.Writer, verbose bool, jsonFormat bool) {
	if w == nil {
		w = os.Stderr
	}
	log.SetOutput(w)

	if jsonFormat || !isTerminal(w) {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
