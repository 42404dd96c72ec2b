package compiler

import (
	"fmt"
	"sort"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/execution"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
	"github.com/arthur-debert/flashtool/pkg/flashtool/partition"
	"github.com/arthur-debert/flashtool/pkg/flashtool/ubi"
)

// Keys under which the installed-version records are written.
const (
	KeyApplianceVersion = "appliance_version"
	KeyRecoveryBoot     = "recovery_boot"
)

// CompileError rejects a whole plan. Nothing of a rejected plan runs.
type CompileError struct {
	// Index is the position of the offending action in the plan.
	Index  int
	Type   string
	Reason string
	Cause  error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("action %d (%q): %s", e.Index, e.Type, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}

// ErrorKind implements core.KindedError: a rejected plan is a configuration
// problem whatever caused it.
func (e *CompileError) ErrorKind() core.ErrorKind {
	return core.KindConfiguration
}

// settable is satisfied by every operation built on operations.BaseOperation.
type settable interface {
	core.Operation
	SetMessages(core.Messages)
}

type constructor func(c *Compiler, id core.OperationID, a Action) ([]settable, error)

type entry struct {
	messages core.Messages
	build    constructor
}

var eraseMessages = core.Messages{Progress: "Erasing flash...", Success: "Flash erased successfully."}

func single(build func(id core.OperationID, p operations.Params, env *operations.Env) settable) constructor {
	return func(c *Compiler, id core.OperationID, a Action) ([]settable, error) {
		return []settable{build(id, a.Params, c.env)}, nil
	}
}

// dispatch is the closed set of action types.
var dispatch = map[string]entry{
	"partition_table": {
		core.Messages{Progress: "Writing partition table to device...", Success: "Partition table written successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return partition.NewTableOperation(id, p, env)
		}),
	},
	"dd": {
		core.Messages{Progress: "Writing image to memory...", Success: "Image written successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return operations.NewDDOperation(id, p, env)
		}),
	},
	"erase_directory": {
		core.Messages{Progress: "Erasing old data...", Success: "Data erased successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return operations.NewEraseDirectoryOperation(id, p, env)
		}),
	},
	"mkfs": {
		core.Messages{Progress: "Formatting filesystem...", Success: "Filesystem formatted successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return operations.NewMkfsOperation(id, p, env)
		}),
	},
	"copy_recovery": {
		core.Messages{Progress: "Creating recovery system...", Success: "Recovery system created successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return operations.NewCopyRecoveryOperation(id, p, env)
		}),
	},
	"ubi_attach": {
		core.Messages{Progress: "Attaching UBI Device...", Success: "UBI Device Attached successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return ubi.NewAttachDetachOperation(id, ubi.ModeAttach, p, env)
		}),
	},
	"ubi_detach": {
		core.Messages{Progress: "Detaching UBI Device...", Success: "UBI Device Detached successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return ubi.NewAttachDetachOperation(id, ubi.ModeDetach, p, env)
		}),
	},
	"ubiformat": {
		core.Messages{Progress: "Formatting NAND...", Success: "NAND formatted successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return operations.NewUbiformatOperation(id, p, env)
		}),
	},
	"ubiupdatevol": {
		core.Messages{Progress: "Writing image to NAND...", Success: "Image written successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return ubi.NewUpdateVolOperation(id, p, env)
		}),
	},
	"nandwrite": {
		core.Messages{Progress: "Writing image to NAND...", Success: "Image written successfully.", SuccessBusy: true},
		buildNandWrite,
	},
	"flash_kobs": {
		core.Messages{Progress: "Writing First-level Bootloader...", Success: "Image written successfully.", SuccessBusy: true},
		buildFlashKobs,
	},
	"u-boot_env_update": {
		core.Messages{Progress: "Updating boot environment...", Success: "Environment updated successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return operations.NewUBootEnvUpdateOperation(id, p, env)
		}),
	},
	"backup_u-boot_environment": {
		core.Messages{Progress: "Backing up boot environment...", Success: "Environment backed up successfully.", SuccessBusy: true},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return operations.NewUBootEnvBackupOperation(id, p, env)
		}),
	},
	"restore_u-boot_environment": {
		core.Messages{Progress: "Restoring boot environment...", Success: "Environment restored successfully.", SuccessBusy: true},
		func(c *Compiler, id core.OperationID, a Action) ([]settable, error) {
			p := a.Params.With("file", c.env.Paths.UBootBackup)
			return []settable{operations.NewUBootEnvUpdateOperation(id, p, c.env)}, nil
		},
	},
	"checksum": {
		core.Messages{Progress: "Verifying image checksum...", Success: "Checksum verified successfully."},
		single(func(id core.OperationID, p operations.Params, env *operations.Env) settable {
			return operations.NewChecksumOperation(id, p, env)
		}),
	},
	// progress text comes from the action itself
	"tool": {
		core.Messages{},
		buildTool,
	},
}

// Types returns every supported action type, sorted.
func Types() []string {
	out := make([]string, 0, len(dispatch))
	for t := range dispatch {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// buildNandWrite erases the blocks the image will occupy, then writes it.
// Without a start offset the whole device is erased.
func buildNandWrite(c *Compiler, id core.OperationID, a Action) ([]settable, error) {
	start := a.Params.String("start")
	var count int64
	if start != "" {
		blockSize, err := a.Params.Int("logical_eraseblock_size", 0)
		if err != nil {
			return nil, err
		}
		if blockSize <= 0 {
			return nil, fmt.Errorf("logical_eraseblock_size must be positive, got %d", blockSize)
		}
		info, err := c.env.FS.Stat(a.Source)
		if err != nil {
			return nil, fmt.Errorf("cannot size image %s: %w", a.Source, err)
		}
		count = (info.Size() + blockSize - 1) / blockSize
	} else {
		start = "0"
	}

	erase := operations.NewFlashEraseOperation(id+"-erase", operations.Params{
		"start":  start,
		"count":  count,
		"target": a.Target,
		"jffs2":  false,
	}, c.env)
	erase.SetMessages(eraseMessages)
	write := operations.NewNandWriteOperation(id, a.Params, c.env)
	write.AddDependency(erase.ID())
	return []settable{erase, write}, nil
}

// buildFlashKobs wipes the device before writing the bootloader. A missing
// source drops the action: not every board ships this image.
func buildFlashKobs(c *Compiler, id core.OperationID, a Action) ([]settable, error) {
	if a.Source == "" || !c.env.Exists(a.Source) {
		c.logger.Warn().Str("source", a.Source).Msg("flash_kobs source file doesn't exist, skipping step")
		return nil, nil
	}
	erase := operations.NewFlashEraseOperation(id+"-erase", operations.Params{
		"start":  "0",
		"count":  0,
		"target": a.Target,
		"jffs2":  false,
	}, c.env)
	erase.SetMessages(eraseMessages)
	write := operations.NewFlashKobsOperation(id, a.Params, c.env)
	write.AddDependency(erase.ID())
	return []settable{erase, write}, nil
}

func buildTool(c *Compiler, id core.OperationID, a Action) ([]settable, error) {
	op := operations.NewToolOperation(id, a.Params, c.env)
	op.SetMessages(core.Messages{Progress: a.Params.String("message"), Success: "OK"})
	return []settable{op}, nil
}

// Compiler builds operations bound to one host environment.
type Compiler struct {
	env    *operations.Env
	logger core.Logger
}

// New creates a Compiler.
func New(env *operations.Env, logger core.Logger) *Compiler {
	return &Compiler{env: env, logger: core.OrNop(logger)}
}

// Compile filters actions by mode and media and maps each remaining one to
// its operations, in order. An unknown type or an action that cannot be
// built rejects the whole plan.
func (c *Compiler) Compile(actions []Action, mode ExecutionMode, media InstallMediaType) ([]core.Operation, error) {
	var ops []core.Operation
	for i, a := range actions {
		if !a.Selected(mode, media) {
			c.logger.Debug().
				Int("index", i).
				Str("type", a.Type).
				Str("mode", mode.String()).
				Str("media", media.String()).
				Msg("skipping action")
			continue
		}

		e, ok := dispatch[a.Type]
		if !ok {
			c.logger.Warn().Int("index", i).Str("type", a.Type).Msg("undefined/unsupported action type")
			return nil, &CompileError{Index: i, Type: a.Type, Reason: "unsupported action type"}
		}

		id := core.OperationID(fmt.Sprintf("%03d-%s", i, a.Type))
		built, err := e.build(c, id, a)
		if err != nil {
			return nil, &CompileError{Index: i, Type: a.Type, Reason: "invalid action", Cause: err}
		}
		for _, op := range built {
			if op.ID() == id && e.messages != (core.Messages{}) {
				op.SetMessages(e.messages)
			}
			ops = append(ops, op)
		}
		c.logger.Debug().Int("index", i).Str("type", a.Type).Int("operations", len(built)).Msg("action compiled")
	}
	return ops, nil
}

// Scripts builds one tool operation per script entry. Each entry is
// {message, path, args}.
func (c *Compiler) Scripts(scripts []operations.Params) []core.Operation {
	ops := make([]core.Operation, 0, len(scripts))
	for i, s := range scripts {
		op := operations.NewToolOperation(core.OperationID(fmt.Sprintf("script-%03d", i)), s, c.env)
		op.SetMessages(core.Messages{Progress: s.String("message"), Success: "OK"})
		ops = append(ops, op)
	}
	return ops
}

// SystemConfig builds the operations that record the installed version and
// clear the recovery boot flag.
func (c *Compiler) SystemConfig(version string) []core.Operation {
	return []core.Operation{
		operations.NewSystemConfigOperation("system-config-version", KeyApplianceVersion, version, c.env),
		operations.NewSystemConfigOperation("system-config-recovery-boot", KeyRecoveryBoot, "0", c.env),
	}
}

// Build compiles actions and appends the scripts and installed-version
// records. A plan whose actions compile to nothing yields an empty sequence:
// there is nothing to install.
func (c *Compiler) Build(actions []Action, scripts []operations.Params, version string, mode ExecutionMode, media InstallMediaType) (*execution.Sequence, error) {
	seq := execution.NewSequence(c.logger)
	ops, err := c.Compile(actions, mode, media)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return seq, nil
	}
	ops = append(ops, c.Scripts(scripts)...)
	ops = append(ops, c.SystemConfig(version)...)
	if err := seq.Add(ops...); err != nil {
		return nil, err
	}
	return seq, nil
}
