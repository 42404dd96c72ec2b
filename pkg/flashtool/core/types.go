package core

import (
	"context"
)

// OperationID uniquely identifies an operation within a sequence
type OperationID string

// OperationDesc describes an operation's type and target
type OperationDesc struct {
	Type    string
	Path    string
	Details map[string]interface{}
}

// OperationStatus indicates the outcome of an individual operation's execution
type OperationStatus string

const (
	// StatusSuccess indicates the operation completed successfully
	StatusSuccess OperationStatus = "SUCCESS"
	// StatusFailure indicates the operation failed during execution
	StatusFailure OperationStatus = "FAILURE"
	// StatusSkipped indicates the operation never started because an earlier one failed
	StatusSkipped OperationStatus = "SKIPPED"
)

// Operation is one unit of work with a single success/error terminal outcome.
// Concrete operations carry everything they need from construction on; the
// executor only starts them and observes the result.
type Operation interface {
	ID() OperationID
	Describe() OperationDesc
	Dependencies() []OperationID
	AddDependency(depID OperationID)
	Execute(ctx context.Context, execCtx *ExecutionContext) error
}

// Messages is the human readable pair shown while an operation runs and
// once it finished successfully.
type Messages struct {
	Progress string
	Success  string
	// SuccessBusy keeps the busy indicator on after Success is shown.
	SuccessBusy bool
}

// Announcer is implemented by operations that carry their own status messages.
type Announcer interface {
	Messages() Messages
}
