package operations

import (
	"context"
	"strings"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
)

// MkfsOperation creates a filesystem on a device.
type MkfsOperation struct {
	*BaseOperation
}

// NewMkfsOperation creates a mkfs operation.
func NewMkfsOperation(id core.OperationID, params Params, env *Env) *MkfsOperation {
	op := &MkfsOperation{BaseOperation: NewBaseOperation(id, "mkfs", params, env)}
	op.SetDescriptionDetail("filesystem", params.String("filesystem"))
	return op
}

// Command returns the mkfs invocation for the operation's parameters.
func (op *MkfsOperation) Command() proc.Command {
	p := op.Params()
	fsType := p.String("filesystem")
	var args []string
	if p.Has("filesystem_label") {
		// ext* spells the label flag -L, vfat and friends -n
		if strings.HasPrefix(fsType, "ext") {
			args = append(args, "-L")
		} else {
			args = append(args, "-n")
		}
		args = append(args, p.String("filesystem_label"))
	}
	args = append(args, p.String("target"))
	return proc.Command{Path: op.Env().Tools.MkfsPrefix + fsType, Args: args}
}

// Execute formats the target device.
func (op *MkfsOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	device := op.Params().String("target")
	if op.Params().String("filesystem") == "" {
		return core.ConfigurationError("mkfs requires a filesystem")
	}
	if !env.Exists(device) {
		return core.PreconditionError("target device %s does not exist", device)
	}

	op.Logger(execCtx).Info().
		Str("device", device).
		Str("filesystem", op.Params().String("filesystem")).
		Str("label", op.Params().String("filesystem_label")).
		Msg("creating filesystem")

	_, err := env.RunTool(ctx, op.Command(), "failed to create filesystem on "+device)
	return err
}
