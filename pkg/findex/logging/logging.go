// Package logging provides the shared component logger for findex.
//
// Basic usage:
//
//	logging.Init(logging.Config{Level: "info"})
//	log := logging.Get("store")
//	log.Info("scan finished", "files", numFiles)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Components maps component names to per-component level overrides.
	Components map[string]string

	// Output is the destination writer. Defaults to stderr.
	Output io.Writer
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

func parseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

var (
	mu      sync.Mutex
	cfg     Config
	level   = log.WarnLevel
	loggers = make(map[string]*log.Logger)
)

// Init configures the logging system. It may be called again to reconfigure;
// loggers handed out earlier keep their old settings.
func Init(c Config) error {
	lvl, err := parseLevel(c.Level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	cfg = c
	level = lvl
	loggers = make(map[string]*log.Logger)
	return nil
}

// Get returns the logger for a component, creating it on first use.
// Components not configured explicitly inherit the default level.
func Get(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[component]; ok {
		return l
	}

	lvl := level
	if override, ok := cfg.Components[component]; ok {
		if parsed, err := parseLevel(override); err == nil {
			lvl = parsed
		}
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	l := log.NewWithOptions(out, log.Options{
		Prefix: component,
		Level:  lvl,
	})
	loggers[component] = l
	return l
}
