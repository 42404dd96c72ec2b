package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status icons understood by the display layer
const (
	IconOK    = "resource:///images/ok.png"
	IconError = "resource:///images/error.png"
)

// Terminal status messages
const (
	MessageInstalled        = "Appliance correctly installed."
	MessageGenericFailure   = "Failed due to error."
	MessageConfigRejected   = "Configuration not validated, aborting."
	MessageConfigUnreadable = "Cannot read flash tool configuration!"
)

// Status is a human readable progress notification.
type Status struct {
	Message string
	Busy    bool
	Icon    string
}

// StatusSink receives status notifications; rendering is up to the implementation.
type StatusSink interface {
	Status(s Status)
}

// StatusSinkFunc is a function adapter for StatusSink
type StatusSinkFunc func(s Status)

// Status implements StatusSink
func (f StatusSinkFunc) Status(s Status) { f(s) }

// StatusEvent carries a Status over the event bus.
type StatusEvent struct {
	*BaseEvent
	Status Status
}

// NewStatusEvent creates a new status event
func NewStatusEvent(s Status) *StatusEvent {
	return &StatusEvent{BaseEvent: NewBaseEvent(EventStatus, s), Status: s}
}

// FailureStatus renders the terminal status for a failed run.
func FailureStatus(err error) Status {
	s := Status{Message: MessageGenericFailure, Icon: IconError}
	if err == nil {
		return s
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		if opErr.Message != "" {
			msg := opErr.Message
			if line := firstLine(opErr.Output); line != "" {
				msg += ": " + line
			}
			s.Message = fmt.Sprintf("Failed: %s, %s.", opErr.Kind, msg)
		}
		return s
	}
	if kind := KindOf(err); kind != "" {
		s.Message = fmt.Sprintf("Failed: %s, %s.", kind, err.Error())
		return s
	}
	if msg := err.Error(); msg != "" {
		s.Message = fmt.Sprintf("Failed: %s.", msg)
	}
	return s
}

// firstLine returns the first non-blank line of tool output.
func firstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// ForwardStatus subscribes sink to every status event published on bus.
func ForwardStatus(bus EventBus, sink StatusSink) SubscriptionID {
	return bus.Subscribe(EventStatus, EventHandlerFunc(func(_ context.Context, e Event) error {
		if se, ok := e.(*StatusEvent); ok {
			sink.Status(se.Status)
		}
		return nil
	}))
}
