package log

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings of NewFileLogger.
const (
	FileMaxSizeMB  = 10
	FileMaxBackups = 5
	FileMaxAgeDays = 14
)

// NewFileLogger creates a secure JSON logger that writes to a size-rotated
// file at path. Unlike the console loggers it logs at Info level unless
// verbose is set. The returned closer releases the file.
func NewFileLogger(path string, verbose bool) (*slog.Logger, io.Closer) {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    FileMaxSizeMB,
		MaxBackups: FileMaxBackups,
		MaxAge:     FileMaxAgeDays,
		Compress:   true,
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewSecureHandler(handler)), w
}

// Tee returns a logger that writes every record to both loggers' handlers.
func Tee(a, b *slog.Logger) *slog.Logger {
	return slog.New(teeHandler{a.Handler(), b.Handler()})
}
