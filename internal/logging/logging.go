// Package logging builds the process logger and adapts it to the logger
// interfaces of gorm and robfig/cron.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level  string
	Format string // console or json
}

// New creates the root logger writing to stdout.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	w := out
	if !strings.EqualFold(cfg.Format, "json") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat, NoColor: true}
	}
	return zerolog.New(w).Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, falling back to def.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// GormWriter satisfies gorm's logger.Writer.
type GormWriter struct {
	Log zerolog.Logger
}

func (w GormWriter) Printf(format string, args ...interface{}) {
	w.Log.Warn().Str("component", "gorm").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// CronLogger satisfies cron.Logger.
type CronLogger struct {
	Log zerolog.Logger
}

func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Log.Debug().Str("component", "cron").Fields(keysAndValues).Msg(msg)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Log.Error().Str("component", "cron").Err(err).Fields(keysAndValues).Msg(msg)
}
