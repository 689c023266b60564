// Package logging wires up the process-wide logger the rest of the
// pipeline calls through github.com/ethereum/go-ethereum/log. It mirrors
// go-ethereum's own cmd/utils terminal-handler setup: colorized output on
// a TTY, plain logfmt on stderr otherwise, plus a rotating log file when
// Options.FilePath is set.
package logging

import (
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logger.
type Options struct {
	// Verbosity is a log.Lvl value (log.LvlInfo, log.LvlDebug, ...).
	Verbosity log.Lvl
	// FilePath, when set, also writes logs to a lumberjack-rotated file;
	// stderr output is kept either way.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultOptions returns sane defaults: info level, terminal only.
func DefaultOptions() Options {
	return Options{Verbosity: log.LvlInfo}
}

// Setup installs the root handler and returns it in case a caller wants
// a component-scoped child logger via log.New.
func Setup(opts Options) log.Logger {
	var handlers []log.Handler

	if isatty.IsTerminal(os.Stderr.Fd()) {
		handlers = append(handlers, log.LvlFilterHandler(opts.Verbosity,
			log.StreamHandler(colorable.NewColorableStderr(), log.TerminalFormat(true))))
	} else {
		handlers = append(handlers, log.LvlFilterHandler(opts.Verbosity,
			log.StreamHandler(os.Stderr, log.LogfmtFormat())))
	}

	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    nz(opts.MaxSizeMB, 100),
			MaxBackups: nz(opts.MaxBackups, 7),
			MaxAge:     nz(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		handlers = append(handlers, log.LvlFilterHandler(opts.Verbosity,
			log.StreamHandler(io.Writer(rotator), log.LogfmtFormat())))
	}

	root := log.Root()
	root.SetHandler(log.MultiHandler(handlers...))
	return root
}

func nz(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Component returns a child logger tagged with a component name, so log
// lines can be filtered/aggregated by the component that emitted them.
// The pipeline's packages build the same tag themselves with
// log.New("component", ...) rather than calling this.
func Component(name string) log.Logger {
	return log.New("component", name)
}
