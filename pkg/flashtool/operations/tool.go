package operations

import (
	"context"
	"path"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
)

// ToolOperation runs an arbitrary executable. Parameters: path, args.
type ToolOperation struct {
	*BaseOperation
}

// NewToolOperation creates a tool operation.
func NewToolOperation(id core.OperationID, params Params, env *Env) *ToolOperation {
	op := &ToolOperation{BaseOperation: NewBaseOperation(id, "tool", params, env)}
	op.description.Path = params.String("path")
	op.SetDescriptionDetail("args", params.Strings("args"))
	return op
}

// Execute runs the tool and maps its exit status to the outcome.
func (op *ToolOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	tool := op.Params().String("path")
	if tool == "" {
		return core.ConfigurationError("tool requires a path")
	}
	if !env.Exists(tool) {
		return core.PreconditionError("%s is missing", tool)
	}
	op.Logger(execCtx).Info().Str("tool", tool).Strs("args", op.Params().Strings("args")).Msg("running tool")
	_, err := env.RunTool(ctx, proc.Command{Path: tool, Args: op.Params().Strings("args")}, "failed to execute "+tool)
	return err
}

// SystemConfigOperation records one installed-system setting under the
// state directory. Parameters: key, value.
type SystemConfigOperation struct {
	*BaseOperation
}

// NewSystemConfigOperation creates a system_config operation.
func NewSystemConfigOperation(id core.OperationID, key, value string, env *Env) *SystemConfigOperation {
	op := &SystemConfigOperation{BaseOperation: NewBaseOperation(id, "system_config", Params{"key": key, "value": value}, env)}
	op.description.Path = path.Join(env.Paths.StateDir, key)
	return op
}

// Execute writes the value.
func (op *SystemConfigOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	key, value := op.Params().String("key"), op.Params().String("value")
	if err := env.FS.MkdirAll(env.Paths.StateDir, 0o755); err != nil {
		return &core.OperationError{Kind: core.KindPrecondition, Message: "cannot create state directory " + env.Paths.StateDir, Cause: err}
	}
	if err := env.FS.WriteFile(path.Join(env.Paths.StateDir, key), []byte(value+"\n"), 0o644); err != nil {
		return &core.OperationError{Kind: core.KindPrecondition, Message: "cannot record " + key, Cause: err}
	}
	op.Logger(execCtx).Info().Str("key", key).Str("value", value).Msg("system setting recorded")
	env.Flush()
	return nil
}

// ReadSystemConfig returns a value previously recorded by SystemConfigOperation.
func ReadSystemConfig(env *Env, key string) (string, error) {
	data, err := env.FS.ReadFile(path.Join(env.Paths.StateDir, key))
	if err != nil {
		return "", err
	}
	return string(trimNewline(data)), nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
