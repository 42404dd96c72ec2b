package partition

import (
	"context"
	"strings"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
)

// TableOperation writes a partition table by feeding a synthesized script
// to fdisk or gdisk.
type TableOperation struct {
	*operations.BaseOperation
}

// NewTableOperation creates a partition_table operation.
func NewTableOperation(id core.OperationID, params operations.Params, env *operations.Env) *TableOperation {
	op := &TableOperation{BaseOperation: operations.NewBaseOperation(id, "partition_table", params, env)}
	op.SetDescriptionDetail("table_type", params.String("table_type"))
	op.SetDescriptionDetail("partitions", len(params.List("partitions")))
	return op
}

// Execute synthesizes the script, runs the tool and waits for the kernel to
// pick up the new table.
func (op *TableOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	logger := op.Logger(execCtx)

	spec, err := ParseTableSpec(op.Params())
	if err != nil {
		return &core.OperationError{Kind: core.KindConfiguration, Message: "invalid partition layout", Cause: err}
	}
	if !env.Exists(spec.Device) {
		return core.PreconditionError("disk %s does not exist", spec.Device)
	}

	cmds, err := Synthesize(spec)
	if err != nil {
		return &core.OperationError{Kind: core.KindConfiguration, Message: "cannot build partitioning script", Cause: err}
	}
	tool, err := ToolFor(spec.TableType, env.Tools)
	if err != nil {
		return &core.OperationError{Kind: core.KindConfiguration, Message: "cannot pick partitioning tool", Cause: err}
	}

	logger.Info().
		Str("device", spec.Device).
		Str("tool", tool).
		Strs("script", cmds).
		Msg("writing partition table")

	_, err = env.RunTool(ctx, proc.Command{
		Path:  tool,
		Args:  []string{spec.Device},
		Stdin: strings.NewReader(Script(cmds)),
	}, "failed to write partition table")
	if err != nil {
		return err
	}

	env.Flush()
	return env.Wait(ctx, env.Settle)
}
