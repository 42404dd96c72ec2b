package ubi

import (
	"context"
	"fmt"
	"sync"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
)

// UpdateVolOperation runs a VolumeMachine for a ubiupdatevol action.
type UpdateVolOperation struct {
	*operations.BaseOperation

	mu   sync.Mutex
	last *Snapshot
}

// NewUpdateVolOperation creates a ubiupdatevol operation.
func NewUpdateVolOperation(id core.OperationID, params operations.Params, env *operations.Env) *UpdateVolOperation {
	op := &UpdateVolOperation{BaseOperation: operations.NewBaseOperation(id, "ubiupdatevol", params, env)}
	op.SetDescriptionDetail("parent_device", params.String("parent_device"))
	op.SetDescriptionDetail("source", params.String("source"))
	return op
}

// Execute drives a fresh machine to completion.
func (op *UpdateVolOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	m := NewVolumeMachine(op.Env(), op.Params(), op.Logger(execCtx))
	err := m.Run(ctx)

	snap := m.Snapshot()
	op.mu.Lock()
	op.last = &snap
	op.mu.Unlock()
	return err
}

// LastRun returns the snapshot of the most recent Execute, if any.
func (op *UpdateVolOperation) LastRun() (Snapshot, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.last == nil {
		return Snapshot{}, false
	}
	return *op.last, true
}

// Mode selects what an AttachDetachOperation does.
type Mode string

// Attach/detach modes, named after their action types
const (
	ModeAttach Mode = "ubi_attach"
	ModeDetach Mode = "ubi_detach"
)

// AttachDetachOperation attaches or detaches an MTD device unconditionally.
type AttachDetachOperation struct {
	*operations.BaseOperation
	mode Mode
}

// NewAttachDetachOperation creates a ubi_attach or ubi_detach operation.
// Parameters: parent_device.
func NewAttachDetachOperation(id core.OperationID, mode Mode, params operations.Params, env *operations.Env) *AttachDetachOperation {
	op := &AttachDetachOperation{
		BaseOperation: operations.NewBaseOperation(id, string(mode), params, env),
		mode:          mode,
	}
	op.SetDescriptionDetail("parent_device", params.String("parent_device"))
	return op
}

// Execute runs ubiattach or ubidetach for the parent MTD.
func (op *AttachDetachOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	mtd, err := ParseMTD(op.Params().String("parent_device"))
	if err != nil {
		return &core.OperationError{
			Kind:    core.KindConfiguration,
			Message: fmt.Sprintf("unable to detect a valid MTD device from %q", op.Params().String("parent_device")),
			Cause:   err,
		}
	}

	tool := env.Tools.Ubiattach
	if op.mode == ModeDetach {
		tool = env.Tools.Ubidetach
	}
	op.Logger(execCtx).Info().Str("tool", tool).Int("mtd", mtd).Msg(string(op.mode))
	_, err = env.RunTool(ctx, proc.Command{Path: tool, Args: []string{"-m", fmt.Sprint(mtd)}},
		fmt.Sprintf("failed to %s MTD (%d)", op.verb(), mtd))
	return err
}

func (op *AttachDetachOperation) verb() string {
	if op.mode == ModeDetach {
		return "detach"
	}
	return "attach"
}
