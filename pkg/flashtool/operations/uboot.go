package operations

import (
	"bufio"
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
)

// EnvVar is one bootloader environment assignment. An empty Value deletes
// the variable.
type EnvVar struct {
	Key   string
	Value string
}

// ParseEnvFile reads key=value lines as printed by fw_printenv. Lines
// without '=' are ignored; later assignments win.
func ParseEnvFile(data []byte) map[string]string {
	vars := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimRight(sc.Text(), "\r"), "=")
		if !ok || key == "" {
			continue
		}
		vars[key] = value
	}
	return vars
}

func sortedVars(vars map[string]string) []EnvVar {
	out := make([]EnvVar, 0, len(vars))
	for k, v := range vars {
		out = append(out, EnvVar{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// UBootEnvUpdateOperation sets bootloader environment variables, either from
// an inline environment object or from a key=value file.
type UBootEnvUpdateOperation struct {
	*BaseOperation
}

// NewUBootEnvUpdateOperation creates a u-boot_env_update operation.
func NewUBootEnvUpdateOperation(id core.OperationID, params Params, env *Env) *UBootEnvUpdateOperation {
	op := &UBootEnvUpdateOperation{BaseOperation: NewBaseOperation(id, "u-boot_env_update", params, env)}
	op.SetDescriptionDetail("file", params.String("file"))
	return op
}

// Updates returns the assignments in the order they are applied.
func (op *UBootEnvUpdateOperation) Updates() ([]EnvVar, error) {
	p := op.Params()
	switch {
	case p.Has("environment"):
		return sortedVars(p.StringMap("environment")), nil
	case p.Has("file"):
		data, err := op.Env().FS.ReadFile(p.String("file"))
		if err != nil {
			return nil, &core.OperationError{Kind: core.KindPrecondition, Message: "could not read " + p.String("file"), Cause: err}
		}
		return sortedVars(ParseEnvFile(data)), nil
	}
	return nil, nil
}

// Execute runs fw_setenv once per variable and stops at the first failure.
func (op *UBootEnvUpdateOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	logger := op.Logger(execCtx)

	updates, err := op.Updates()
	if err != nil {
		return err
	}
	if err := requireUBootTools(env, env.Tools.FwSetenv); err != nil {
		return err
	}
	if len(updates) == 0 {
		logger.Warn().Msg("no bootloader variables to update")
		return nil
	}

	for _, v := range updates {
		args := []string{v.Key}
		if v.Value != "" {
			args = append(args, v.Value)
		}
		logger.Debug().Str("key", v.Key).Str("value", v.Value).Msg("setting bootloader variable")
		if _, err := env.RunTool(ctx, proc.Command{Path: env.Tools.FwSetenv, Args: args}, "failed to update environment variable "+v.Key); err != nil {
			return err
		}
	}
	return nil
}

// UBootEnvBackupOperation saves the current bootloader environment.
type UBootEnvBackupOperation struct {
	*BaseOperation
}

// NewUBootEnvBackupOperation creates a backup_u-boot_environment operation.
func NewUBootEnvBackupOperation(id core.OperationID, params Params, env *Env) *UBootEnvBackupOperation {
	op := &UBootEnvBackupOperation{BaseOperation: NewBaseOperation(id, "backup_u-boot_environment", params, env)}
	op.SetDescriptionDetail("backup", env.Paths.UBootBackup)
	return op
}

// Execute captures fw_printenv output into the backup file.
func (op *UBootEnvBackupOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	if err := requireUBootTools(env, env.Tools.FwPrintenv); err != nil {
		return err
	}
	res, err := env.RunTool(ctx, proc.Command{Path: env.Tools.FwPrintenv}, "failed to read environment")
	if err != nil {
		return err
	}
	if err := env.FS.WriteFile(env.Paths.UBootBackup, res.Stdout, 0o600); err != nil {
		return &core.OperationError{Kind: core.KindPrecondition, Message: "failed to write backup file " + env.Paths.UBootBackup, Cause: err}
	}
	op.Logger(execCtx).Info().Str("path", env.Paths.UBootBackup).Int("bytes", len(res.Stdout)).Msg("bootloader environment saved")
	return nil
}

func requireUBootTools(env *Env, tool string) error {
	if !env.Exists(tool) {
		return core.PreconditionError("%s is not installed", tool)
	}
	if !env.Exists(env.Tools.FwEnvConfig) {
		return core.PreconditionError("cannot read bootloader environment config %s", env.Tools.FwEnvConfig)
	}
	return nil
}
