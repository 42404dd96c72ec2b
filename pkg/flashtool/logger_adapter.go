package flashtool

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
)

// loggerAdapter adapts zerolog.Logger to core.Logger
type loggerAdapter struct {
	logger *zerolog.Logger
}

// NewLoggerAdapter lets the packages below the facade log through zerolog.
func NewLoggerAdapter(logger *zerolog.Logger) core.Logger {
	return &loggerAdapter{logger: logger}
}

type logEventAdapter struct {
	event *zerolog.Event
}

func (l *loggerAdapter) Info() core.LogEvent  { return &logEventAdapter{event: l.logger.Info()} }
func (l *loggerAdapter) Debug() core.LogEvent { return &logEventAdapter{event: l.logger.Debug()} }
func (l *loggerAdapter) Warn() core.LogEvent  { return &logEventAdapter{event: l.logger.Warn()} }
func (l *loggerAdapter) Error() core.LogEvent { return &logEventAdapter{event: l.logger.Error()} }
func (l *loggerAdapter) Trace() core.LogEvent { return &logEventAdapter{event: l.logger.Trace()} }

func (e *logEventAdapter) Str(key, val string) core.LogEvent {
	e.event = e.event.Str(key, val)
	return e
}

func (e *logEventAdapter) Strs(key string, vals []string) core.LogEvent {
	e.event = e.event.Strs(key, vals)
	return e
}

func (e *logEventAdapter) Int(key string, val int) core.LogEvent {
	e.event = e.event.Int(key, val)
	return e
}

func (e *logEventAdapter) Err(err error) core.LogEvent {
	e.event = e.event.Err(err)
	return e
}

func (e *logEventAdapter) Bool(key string, val bool) core.LogEvent {
	e.event = e.event.Bool(key, val)
	return e
}

func (e *logEventAdapter) Dur(key string, val interface{}) core.LogEvent {
	if d, ok := val.(time.Duration); ok {
		e.event = e.event.Dur(key, d)
		return e
	}
	e.event = e.event.Interface(key, val)
	return e
}

func (e *logEventAdapter) Interface(key string, val interface{}) core.LogEvent {
	e.event = e.event.Interface(key, val)
	return e
}

func (e *logEventAdapter) Msg(msg string) {
	e.event.Msg(msg)
}
