package core

import "time"

// Event types published while a sequence runs
const (
	EventOperationStarted   = "operation.started"
	EventOperationCompleted = "operation.completed"
	EventOperationFailed    = "operation.failed"
	EventSequenceFinished   = "sequence.finished"
	EventStatus             = "status"
)

// OperationEventData identifies the step an event is about. Index is 1-based.
type OperationEventData struct {
	OperationID   OperationID
	OperationType string
	Path          string
	Index         int
	Total         int
}

// OperationStartedEvent is published right before a step runs; after a
// failure it tells which step was running.
type OperationStartedEvent struct {
	*BaseEvent
	Operation OperationEventData
}

func NewOperationStartedEvent(data OperationEventData) *OperationStartedEvent {
	return &OperationStartedEvent{
		BaseEvent: NewBaseEvent(EventOperationStarted, data),
		Operation: data,
	}
}

// OperationCompletedEvent is published after a step succeeded.
type OperationCompletedEvent struct {
	*BaseEvent
	Operation OperationEventData
	Duration  time.Duration
}

func NewOperationCompletedEvent(data OperationEventData, duration time.Duration) *OperationCompletedEvent {
	return &OperationCompletedEvent{
		BaseEvent: NewBaseEvent(EventOperationCompleted, data),
		Operation: data,
		Duration:  duration,
	}
}

// OperationFailedEvent carries the terminal error of the failed step.
type OperationFailedEvent struct {
	*BaseEvent
	Operation OperationEventData
	Error     error
	Duration  time.Duration
}

func NewOperationFailedEvent(data OperationEventData, err error, duration time.Duration) *OperationFailedEvent {
	return &OperationFailedEvent{
		BaseEvent: NewBaseEvent(EventOperationFailed, data),
		Operation: data,
		Error:     err,
		Duration:  duration,
	}
}

// SequenceFinishedEvent is emitted once per run, after the last step.
type SequenceFinishedEvent struct {
	*BaseEvent
	Success  bool
	Duration time.Duration
}

func NewSequenceFinishedEvent(success bool, duration time.Duration) *SequenceFinishedEvent {
	return &SequenceFinishedEvent{
		BaseEvent: NewBaseEvent(EventSequenceFinished, success),
		Success:   success,
		Duration:  duration,
	}
}
