package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	consoleTimeFormat = "2006-01-02 15:04:05"
)

// Log is the process logger. Packages logging through the zerolog global get
// the same configuration because Configure keeps log.Logger in step with it.
var Log zerolog.Logger

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano
	install(newLogger(os.Stdout, FormatConsole, zerolog.InfoLevel))
}

// Configure replaces the process logger with one writing format to stdout at
// level. An unrecognised level falls back to info and is reported.
func Configure(level, format string) {
	ConfigureOutput(os.Stdout, level, format)
}

// ConfigureOutput is Configure with an explicit destination.
func ConfigureOutput(w io.Writer, level, format string) {
	lvl, ok := ParseLevel(level)
	zerolog.SetGlobalLevel(lvl)
	install(newLogger(w, format, lvl))
	if !ok {
		Log.Warn().Str("level", level).Msg("invalid log level, defaulting to info")
	}
}

// ParseLevel maps LOG_LEVEL values onto zerolog levels. Empty means info;
// "warning" is accepted next to zerolog's own names.
func ParseLevel(value string) (zerolog.Level, bool) {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "":
		return zerolog.InfoLevel, true
	case "warning":
		return zerolog.WarnLevel, true
	default:
		lvl, err := zerolog.ParseLevel(v)
		if err != nil || lvl == zerolog.NoLevel {
			return zerolog.InfoLevel, false
		}
		return lvl, true
	}
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

func newLogger(w io.Writer, format string, lvl zerolog.Level) zerolog.Logger {
	if !strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Caller().
		Logger()
}

func install(l zerolog.Logger) {
	Log = l
	log.Logger = l
}
