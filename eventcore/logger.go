package eventcore

import (
	"os"

	"github.com/rs/zerolog"
)

// LogEvent is the chainable builder a Logger method returns; it narrows
// zerolog.Event to the handful of field types the core ever attaches.
type LogEvent interface {
	Str(key, value string) LogEvent
	Int(key string, value int) LogEvent
	Int64(key string, value int64) LogEvent
	Float64(key string, value float64) LogEvent
	Err(err error) LogEvent
	Msg(msg string)
}

// Logger is the only logging surface the core depends on. The core emits
// structured events to whatever sink is installed here; it does not run
// its own telemetry pipeline.
type Logger interface {
	Debug() LogEvent
	Info() LogEvent
	Warn() LogEvent
	Error() LogEvent
}

type zerologEvent struct{ e *zerolog.Event }

func (z zerologEvent) Str(key, value string) LogEvent { z.e.Str(key, value); return z }
func (z zerologEvent) Int(key string, value int) LogEvent { z.e.Int(key, value); return z }
func (z zerologEvent) Int64(key string, value int64) LogEvent { z.e.Int64(key, value); return z }
func (z zerologEvent) Float64(key string, value float64) LogEvent { z.e.Float64(key, value); return z }
func (z zerologEvent) Err(err error) LogEvent { z.e.Err(err); return z }
func (z zerologEvent) Msg(msg string) { z.e.Msg(msg) }

// ZerologLogger adapts zerolog.Logger to the Logger interface. This is the
// default logger; callers may supply any other Logger implementation.
type ZerologLogger struct{ logger zerolog.Logger }

// NewZerologLogger builds a structured, leveled logger writing to stdout.
func NewZerologLogger() *ZerologLogger {
	return &ZerologLogger{logger: zerolog.New(os.Stdout).With().Timestamp().Logger()}
}

func (z *ZerologLogger) Debug() LogEvent { return zerologEvent{z.logger.Debug()} }
func (z *ZerologLogger) Info() LogEvent  { return zerologEvent{z.logger.Info()} }
func (z *ZerologLogger) Warn() LogEvent  { return zerologEvent{z.logger.Warn()} }
func (z *ZerologLogger) Error() LogEvent { return zerologEvent{z.logger.Error()} }

// NopLogger discards everything; useful in tests that don't assert on log
// output and don't want stdout noise.
type NopLogger struct{}

type nopEvent struct{}

func (nopEvent) Str(string, string) LogEvent    { return nopEvent{} }
func (nopEvent) Int(string, int) LogEvent       { return nopEvent{} }
func (nopEvent) Int64(string, int64) LogEvent   { return nopEvent{} }
func (nopEvent) Float64(string, float64) LogEvent { return nopEvent{} }
func (nopEvent) Err(error) LogEvent             { return nopEvent{} }
func (nopEvent) Msg(string)                     {}

func (NopLogger) Debug() LogEvent { return nopEvent{} }
func (NopLogger) Info() LogEvent  { return nopEvent{} }
func (NopLogger) Warn() LogEvent  { return nopEvent{} }
func (NopLogger) Error() LogEvent { return nopEvent{} }
