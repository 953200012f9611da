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

// NewZerologLogger creates a ZerologLogger writing to stdout. Behaviour is
// controlled by two environment variables: VOLTPLAN_LOG_LEVEL sets the minimum
// level (zerolog level names, default "info") and VOLTPLAN_LOG_FORMAT=console
// switches from JSON to human-readable output. Every record carries the
// service name and the component that emitted it.
func NewZerologLogger(component string) Logger {
	return newZerologLogger(component, os.Stdout)
}

func newZerologLogger(component string, out io.Writer) Logger {
	level := zerolog.InfoLevel
	if raw := os.Getenv("VOLTPLAN_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	if strings.EqualFold(os.Getenv("VOLTPLAN_LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	z := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", "voltplan").
		Str("component", component).
		Logger()
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
