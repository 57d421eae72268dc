// Package logging builds the engine's loggers the way the run workspace
// expects them: a log file under logs/ always, stderr mirrored in verbose
// mode, and terminal-aware formatting.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

// Options controls logger construction.
type Options struct {
	Level   string // debug, info, warn, error
	Verbose bool   // mirror log lines to stderr
	Dir     string // workspace logs directory; "" = stderr only
}

// New creates the root engine logger. Subsystems derive their own with
// logger.With("component", ...).
func New(opts Options) (*log.Logger, error) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}

	var writer io.Writer = os.Stderr
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(opts.Dir, "engine.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		if opts.Verbose {
			writer = io.MultiWriter(os.Stderr, f)
		} else {
			writer = f
		}
	}

	logger := log.New(writer)
	logger.SetLevel(level)
	logger.SetReportTimestamp(true)
	// Logfmt for files and pipes, the human formatter only on a terminal.
	if opts.Dir != "" || !isatty.IsTerminal(os.Stderr.Fd()) {
		logger.SetFormatter(log.LogfmtFormatter)
	}
	return logger, nil
}
