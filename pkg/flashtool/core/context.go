package core

// Logger interface defines logging capabilities
type Logger interface {
	Info() LogEvent
	Debug() LogEvent
	Warn() LogEvent
	Error() LogEvent
	Trace() LogEvent
}

// LogEvent interface for structured logging
type LogEvent interface {
	Str(key, val string) LogEvent
	Strs(key string, vals []string) LogEvent
	Int(key string, val int) LogEvent
	Err(err error) LogEvent
	Bool(key string, val bool) LogEvent
	Dur(key string, val interface{}) LogEvent
	Interface(key string, val interface{}) LogEvent
	Msg(msg string)
}

// ExecutionContext provides the dependencies shared by every operation of a run
type ExecutionContext struct {
	Logger   Logger
	EventBus EventBus
}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Info() LogEvent  { return nopEvent{} }
func (nopLogger) Debug() LogEvent { return nopEvent{} }
func (nopLogger) Warn() LogEvent  { return nopEvent{} }
func (nopLogger) Error() LogEvent { return nopEvent{} }
func (nopLogger) Trace() LogEvent { return nopEvent{} }

type nopEvent struct{}

func (e nopEvent) Str(string, string) LogEvent            { return e }
func (e nopEvent) Strs(string, []string) LogEvent         { return e }
func (e nopEvent) Int(string, int) LogEvent               { return e }
func (e nopEvent) Err(error) LogEvent                     { return e }
func (e nopEvent) Bool(string, bool) LogEvent             { return e }
func (e nopEvent) Dur(string, interface{}) LogEvent       { return e }
func (e nopEvent) Interface(string, interface{}) LogEvent { return e }
func (e nopEvent) Msg(string)                             {}

// OrNop returns logger, or NopLogger when logger is nil.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return NopLogger
	}
	return logger
}
