// Package logging builds the charm loggers used across sfplayer
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/james-see/sfplayer/pkg/config"
)

// New returns a logger writing to w at the named level
func New(level string, w io.Writer) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Prefix:          "sfplayer",
	}), nil
}

// File opens sfplayer.log in the config directory, truncating it.
// The TUI logs there so output does not corrupt the screen.
func File() (*os.File, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, "sfplayer.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "=== sfplayer log started %s ===\n", time.Now().Format(time.RFC3339))
	return f, nil
}
