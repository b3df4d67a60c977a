// Package logging owns the process-wide logger registry. Loggers are
// created once per name and written to a per-program log file, with a
// console copy when attached to a terminal.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/schedtools/schedtools/internal/shell"
)

var (
	mu      sync.Mutex
	loggers = map[string]zerolog.Logger{}
)

// Default returns the logger for the current invocation name.
func Default() zerolog.Logger {
	return Get(shell.ProgName())
}

// Get returns the named logger, building it on first use.
func Get(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if log, ok := loggers[name]; ok {
		return log
	}
	log := build(name)
	loggers[name] = log
	return log
}

func build(name string) zerolog.Logger {
	var writers []io.Writer
	if f, err := os.OpenFile(logFile(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
		writers = append(writers, f)
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Str("prog", name)
	// Under systemd the process user isn't the human the logs are about.
	if user := os.Getenv(shell.UserEnv); user != "" {
		ctx = ctx.Str("user", user)
	}
	return ctx.Logger()
}

func logFile(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, fmt.Sprintf(".%s.log", name))
}
