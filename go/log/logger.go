// Package log provides structured logging for shemufuzz using zap.
package log

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lunixbochs/shemufuzz/go/models"
)

// Logger wraps zap.Logger with harness-specific helpers.
type Logger struct {
	*zap.Logger
}

// New creates a Logger. Verbose loggers use the development encoder at debug
// level; otherwise only warnings and errors are written. output is a file
// path, or empty for stderr.
func New(verbose bool, output string) (*Logger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if output != "" {
		cfg.OutputPaths = []string{output}
		cfg.ErrorOutputPaths = []string{output}
		// no terminal escapes in log files
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return &Logger{Logger: logger}, nil
}

// FromConfig builds the logger described by c.
func FromConfig(c *models.Config) (*Logger, error) {
	return New(c.Verbose || c.Trace, c.Output)
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Sink adapts the logger to the engine trace callback.
func (l *Logger) Sink() models.LogSink {
	trace := l.Named("shemu")
	return func(msg string) {
		trace.Debug(strings.TrimRight(msg, "\n"))
	}
}

// Hex formats a uint64 as hex string for logging.
func Hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Status creates an engine status field, always rendered as 0x%08x.
func Status(s models.Status) zap.Field {
	return zap.String("status", fmt.Sprintf("0x%08x", uint32(s)))
}

// Path creates a file path field.
func Path(p string) zap.Field {
	return zap.String("path", p)
}
