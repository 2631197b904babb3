// Package logging implements the notifyd logging setup on top of zap:
// a factory handing out named child loggers with per-child level overrides and
// either console (stderr) or systemd-journald output.
package logging

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	CONSOLE = "console"
	JOURNAL = "systemd-journald"
)

// Logger wraps zap.SugaredLogger.
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger returns a new Logger.
func NewLogger(base *zap.SugaredLogger) *Logger {
	return &Logger{SugaredLogger: base}
}

// Logging implements access to a default logger and named child loggers.
// Log levels can be configured per named child via Options which, if not configured,
// fall back to the default log level.
type Logging struct {
	logger    *Logger
	output    string
	verbosity zap.AtomicLevel

	mu      sync.Mutex
	loggers map[string]*Logger

	options Options

	coreFactory func(zap.AtomicLevel) zapcore.Core
}

// NewLogging takes the name and log level for the default logger,
// output where log messages are written to and options having log levels for named child loggers
// and returns a new Logging.
func NewLogging(name string, level zapcore.Level, output string, options Options) (*Logging, error) {
	verbosity := zap.NewAtomicLevelAt(level)

	var coreFactory func(zap.AtomicLevel) zapcore.Core
	switch output {
	case CONSOLE:
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		ws := zapcore.Lock(os.Stderr)
		coreFactory = func(verbosity zap.AtomicLevel) zapcore.Core {
			return zapcore.NewCore(enc, ws, verbosity)
		}
	case JOURNAL:
		coreFactory = func(verbosity zap.AtomicLevel) zapcore.Core {
			return NewJournaldCore(name, verbosity)
		}
	default:
		return nil, invalidOutput(output)
	}

	logger := NewLogger(zap.New(coreFactory(verbosity)).Named(name).Sugar())

	return &Logging{
		logger:      logger,
		output:      output,
		verbosity:   verbosity,
		loggers:     make(map[string]*Logger),
		options:     options,
		coreFactory: coreFactory,
	}, nil
}

// NewLoggingFromConfig returns a new Logging from Config.
func NewLoggingFromConfig(name string, c Config) (*Logging, error) {
	return NewLogging(name, c.Level, c.Output, c.Options)
}

// GetChildLogger returns a named child logger.
// Log levels for named child loggers are obtained from the logging options and, if not found,
// set to the default log level.
func (l *Logging) GetChildLogger(name string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	if logger, ok := l.loggers[name]; ok {
		return logger
	}

	var logger *Logger
	if level, found := l.options[name]; found {
		verbosity := zap.NewAtomicLevelAt(level)
		logger = NewLogger(zap.New(l.coreFactory(verbosity)).Named(name).Sugar())
	} else {
		logger = NewLogger(l.logger.Named(name))
	}

	l.loggers[name] = logger

	return logger
}

// GetLogger returns the default logger.
func (l *Logging) GetLogger() *Logger {
	return l.logger
}

func invalidOutput(o string) error {
	return errors.Errorf("%s is not a valid logger output. Must be either %q or %q", o, CONSOLE, JOURNAL)
}
