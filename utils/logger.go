package utils

import (
	"log/slog"
	"os"
	"strings"
)

var (
	InfoLog  *slog.Logger
	ErrorLog *slog.Logger
)

// InicializarLogger configura los loggers globales
func InicializarLogger(logLevel string, moduleName string) {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParsearNivel(logLevel),
	})

	logger := slog.New(handler).With("modulo", moduleName)

	InfoLog = logger
	ErrorLog = logger
}

// ParsearNivel traduce el LOG_LEVEL de la configuración a un slog.Level
func ParsearNivel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger devuelve InfoLog, o el logger por defecto si nadie llamó a
// InicializarLogger (uso como biblioteca, tests).
func Logger() *slog.Logger {
	if InfoLog != nil {
		return InfoLog
	}
	return slog.Default()
}

// LoggerError es el equivalente de Logger para ErrorLog.
func LoggerError() *slog.Logger {
	if ErrorLog != nil {
		return ErrorLog
	}
	return slog.Default()
}
