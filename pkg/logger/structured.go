package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var zlog = zerolog.Nop()

// InitStructured initializes the structured zerolog logger
func InitStructured(env string) {
	var w io.Writer

	if IsDevelopment(env) {
		// Pretty console output for development
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		// JSON output for production (machine-readable)
		w = os.Stdout
	}

	zlog = zerolog.New(w).With().
		Timestamp().
		Str("service", "popup-analytics").
		Logger()

	zerolog.TimeFieldFormat = time.RFC3339
}

// IsDevelopment reports whether env selects the console writer
func IsDevelopment(env string) bool {
	return env == "development" || env == "dev" || env == "local"
}

// SetLevel parses and applies a global level ("debug", "info", ...). Unknown levels are ignored.
func SetLevel(level string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		zerolog.SetGlobalLevel(lvl)
	}
}

// GetLogger returns the global zerolog logger
func GetLogger() *zerolog.Logger {
	return &zlog
}

// Info printf-style helper for bootstrap code
func Info(format string, args ...interface{}) {
	zlog.Info().Msg(fmt.Sprintf(format, args...))
}

// Warn printf-style helper for bootstrap code
func Warn(format string, args ...interface{}) {
	zlog.Warn().Msg(fmt.Sprintf(format, args...))
}

// Error printf-style helper for bootstrap code
func Error(format string, args ...interface{}) {
	zlog.Error().Msg(fmt.Sprintf(format, args...))
}
