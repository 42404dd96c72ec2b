package operations

import (
	"context"
	"fmt"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
)

// BaseOperation provides the identity and bookkeeping shared by every
// concrete operation. Concrete operations embed it and override Execute.
type BaseOperation struct {
	id           core.OperationID
	dependencies []core.OperationID
	description  core.OperationDesc
	messages     core.Messages
	params       Params
	env          *Env
}

// NewBaseOperation creates a new base operation.
func NewBaseOperation(id core.OperationID, opType string, params Params, env *Env) *BaseOperation {
	if params == nil {
		params = Params{}
	}
	return &BaseOperation{
		id: id,
		description: core.OperationDesc{
			Type:    opType,
			Path:    params.String("target"),
			Details: make(map[string]interface{}),
		},
		params: params,
		env:    env,
	}
}

// ID returns the operation's ID.
func (op *BaseOperation) ID() core.OperationID {
	return op.id
}

// Dependencies returns the list of operation dependencies.
func (op *BaseOperation) Dependencies() []core.OperationID {
	return op.dependencies
}

// AddDependency adds a dependency to the operation. Duplicates are ignored.
func (op *BaseOperation) AddDependency(depID core.OperationID) {
	for _, existing := range op.dependencies {
		if existing == depID {
			return
		}
	}
	op.dependencies = append(op.dependencies, depID)
}

// Describe returns the operation's description.
func (op *BaseOperation) Describe() core.OperationDesc {
	return op.description
}

// SetDescriptionDetail sets a detail in the operation's description.
func (op *BaseOperation) SetDescriptionDetail(key string, value interface{}) {
	op.description.Details[key] = value
}

// Messages implements core.Announcer
func (op *BaseOperation) Messages() core.Messages {
	return op.messages
}

// SetMessages sets the progress and success messages.
func (op *BaseOperation) SetMessages(m core.Messages) {
	op.messages = m
}

// Params returns the operation's parameter bag.
func (op *BaseOperation) Params() Params {
	return op.params
}

// Env returns the host environment the operation runs against.
func (op *BaseOperation) Env() *Env {
	return op.env
}

// Logger returns the run's logger, never nil.
func (op *BaseOperation) Logger(execCtx *core.ExecutionContext) core.Logger {
	if execCtx == nil {
		return core.NopLogger
	}
	return core.OrNop(execCtx.Logger)
}

// Execute must be overridden by concrete operations.
func (op *BaseOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	return fmt.Errorf("Execute not implemented for operation type: %s", op.description.Type)
}
