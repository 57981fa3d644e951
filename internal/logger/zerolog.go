package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger on top of zerolog. Every event carries the
// emitting component and the caller's fields as top-level keys.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerolog writes one JSON object per event to w.
func NewZerolog(w io.Writer, level zerolog.Level) *ZerologAdapter {
	return &ZerologAdapter{
		logger: zerolog.New(w).Level(level).With().Timestamp().Logger(),
	}
}

// NewConsoleLogger writes human readable lines to stderr so stdout stays free
// for command output.
func NewConsoleLogger(level zerolog.Level) *ZerologAdapter {
	return NewZerolog(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}, level)
}

// With returns a child logger that stamps every event with the given field,
// e.g. the batch run id.
func (z *ZerologAdapter) With(key string, value interface{}) *ZerologAdapter {
	return &ZerologAdapter{logger: z.logger.With().Interface(key, value).Logger()}
}

// Level reports the minimum level that is written.
func (z *ZerologAdapter) Level() zerolog.Level {
	return z.logger.GetLevel()
}

func (z *ZerologAdapter) Debug(component, message string, fields map[string]interface{}) {
	annotate(z.logger.Debug(), component, fields).Msg(message)
}

func (z *ZerologAdapter) Info(component, message string, fields map[string]interface{}) {
	annotate(z.logger.Info(), component, fields).Msg(message)
}

func (z *ZerologAdapter) Warning(component, message string, fields map[string]interface{}) {
	annotate(z.logger.Warn(), component, fields).Msg(message)
}

func (z *ZerologAdapter) Error(component string, err error, fields map[string]interface{}) {
	annotate(z.logger.Error().Err(err), component, fields).Msg("operation failed")
}

// annotate is safe on the nil event zerolog returns for filtered levels.
func annotate(e *zerolog.Event, component string, fields map[string]interface{}) *zerolog.Event {
	e = e.Str("component", component)
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	return e
}
