package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLogger is a leveled logging engine backed by zap. Messages are written to standard output in a
// human-readable console format and, if configured, as JSON records to a rotated file on disk.
type ZapLogger struct {
	level Level
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// FileOpts formalizes options for the rotated JSON log file.
type FileOpts struct {
	// Path is the location of the active log file. Rotated backups are written alongside it.
	Path string
	// MaxSizeMB is the size in megabytes at which the active file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to retain.
	MaxBackups int
	// MaxAgeDays is the number of days to retain rotated files.
	MaxAgeDays int
	// Compress enables gzip compression of rotated files.
	Compress bool
}

// NewConsoleLogger creates a logger limited to the specified level that writes only to standard
// output.
func NewConsoleLogger(level Level) *ZapLogger {
	return NewZapLogger(level, nil)
}

// NewZapLogger creates a logger limited to the specified level. If file is non-nil, records are
// additionally written as JSON to the described file.
func NewZapLogger(level Level, file *FileOpts) *ZapLogger {
	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
	consoleEncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderConfig),
			zapcore.Lock(os.Stdout),
			level.zapLevel(),
		),
	}

	if file != nil && file.Path != "" {
		fileEncoderConfig := zap.NewProductionEncoderConfig()
		fileEncoderConfig.TimeKey = "timestamp"
		fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		})

		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig),
			writer,
			level.zapLevel(),
		))
	}

	return NewZapLoggerWithCore(level, zapcore.NewTee(cores...))
}

// NewZapLoggerWithCore creates a logger limited to the specified level on top of an existing zap
// core.
func NewZapLoggerWithCore(level Level, core zapcore.Core) *ZapLogger {
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{
		level: level,
		base:  base,
		sugar: base.Sugar(),
	}
}

// Debug logs a debug message, if permitted by the current level.
func (l *ZapLogger) Debug(format string, v ...interface{}) {
	if l.level.Enables(Debug) {
		l.sugar.Debugf(format, v...)
	}
}

// Info logs an informational message, if permitted by the current level.
func (l *ZapLogger) Info(format string, v ...interface{}) {
	if l.level.Enables(Info) {
		l.sugar.Infof(format, v...)
	}
}

// Warn logs a warning message, if permitted by the current level.
func (l *ZapLogger) Warn(format string, v ...interface{}) {
	if l.level.Enables(Warn) {
		l.sugar.Warnf(format, v...)
	}
}

// Error logs an error message, if permitted by the current level.
func (l *ZapLogger) Error(format string, v ...interface{}) {
	if l.level.Enables(Error) {
		l.sugar.Errorf(format, v...)
	}
}

// Level reads the current logging level.
func (l *ZapLogger) Level() Level {
	return l.level
}

// Desugar exposes the underlying structured logger, without the caller skip applied for the
// leveled wrappers.
func (l *ZapLogger) Desugar() *zap.Logger {
	return l.base.WithOptions(zap.AddCallerSkip(-1))
}

// Sync flushes any buffered records.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}
