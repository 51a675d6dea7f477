package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/zbimage/captiond/internal/config"
)

// setupLog configures the default logger: text on a terminal, JSON
// otherwise, plus an optional append-only log file.
func setupLog(c config.Config) (func() error, error) {
	var out io.Writer = os.Stderr
	closer := func() error { return nil }

	if c.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}

	formatter := log.TextFormatter
	if c.LogFile != "" || !term.IsTerminal(int(os.Stderr.Fd())) {
		formatter = log.JSONFormatter
	}

	level := log.InfoLevel
	if c.Debug {
		level = log.DebugLevel
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Formatter:       formatter,
	})
	log.SetDefault(logger)

	return closer, nil
}
