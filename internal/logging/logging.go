// Package logging defines the structured logging contract consumed by the
// core engines and a zerolog-backed default implementation.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging interface the core depends on.
// It is satisfied by the zerolog adapter below and by a no-op for tests.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// Noop implements Logger without side effects. Useful as a zero-value
// default for components constructed outside of New.
type Noop struct{}

func (Noop) Info(string, map[string]any)  {}
func (Noop) Error(string, map[string]any) {}
func (Noop) Debug(string, map[string]any) {}

type zlog struct {
	l zerolog.Logger
}

// New builds a zerolog-backed Logger writing JSON to stderr. levelName is
// parsed with zerolog.ParseLevel; an unrecognized value falls back to info.
func New(levelName string) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelName)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	return &zlog{l: l}
}

func (z *zlog) Info(msg string, fields map[string]any) {
	z.l.Info().Fields(fields).Msg(msg)
}

func (z *zlog) Error(msg string, fields map[string]any) {
	z.l.Error().Fields(fields).Msg(msg)
}

func (z *zlog) Debug(msg string, fields map[string]any) {
	z.l.Debug().Fields(fields).Msg(msg)
}
