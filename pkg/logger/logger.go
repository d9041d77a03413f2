// Package logger provides opinionated logging capabilities for the chatty system
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a logger built with New.
type Options struct {
	// Debug lowers the level to debug.
	Debug bool

	// JSON switches from the colored console encoder to JSON lines, which is
	// what "chatty serve" emits when running under a supervisor.
	JSON bool

	// Writers receive every entry. Defaults to os.Stdout.
	Writers []io.Writer
}

func NewLogger(debug bool) *zap.Logger {
	return New(Options{Debug: debug})
}

func NewLoggerWithWriters(debug bool, writers ...io.Writer) *zap.Logger {
	return New(Options{Debug: debug, Writers: writers})
}

// New builds a zap logger from the given options.
func New(o Options) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if o.JSON {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := zap.InfoLevel
	if o.Debug {
		level = zap.DebugLevel
	}

	writers := o.Writers
	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}

	syncers := make([]zapcore.WriteSyncer, 0, len(writers))
	for _, writer := range writers {
		syncers = append(syncers, zapcore.AddSync(writer))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)

	return zap.New(core, zap.AddCaller())
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}
