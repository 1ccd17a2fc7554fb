package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger using the APP_ENV environment variable
// to determine the output format. All logs include the provided component field.
func NewZerologLogger(component string) Logger {
	var w io.Writer = os.Stdout
	if defaultOutput != nil {
		w = defaultOutput
	}
	if strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = defaultLevel
	}
	return NewWithWriter(component, w, level)
}

var (
	defaultLevel  string
	defaultOutput io.Writer
)

// SetDefaultLevel sets the level used when LOG_LEVEL is empty. Loggers built
// before the call keep their level.
func SetDefaultLevel(level string) { defaultLevel = level }

// SetDefaultOutput redirects loggers built after the call to w. A nil w
// restores stdout.
func SetDefaultOutput(w io.Writer) { defaultOutput = w }

// NewWithWriter builds a logger writing JSON lines to w. An empty or unknown
// level keeps zerolog's debug default.
func NewWithWriter(component string, w io.Writer, level string) *ZerologLogger {
	z := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && level != "" {
		z = z.Level(lvl)
	}
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
