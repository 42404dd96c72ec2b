package operations

import (
	"context"
	"path"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
)

// PartialFlashMarker is the sentinel file that tells a later boot from the
// recovery partition to update only part of the storage.
const PartialFlashMarker = "partial_flash"

const partialFlashContent = "written by flashtool after populating the recovery partition\n"

// CopyRecoveryOperation populates a recovery partition with files from the
// installation media.
type CopyRecoveryOperation struct {
	*BaseOperation
}

// NewCopyRecoveryOperation creates a copy_recovery operation.
func NewCopyRecoveryOperation(id core.OperationID, params Params, env *Env) *CopyRecoveryOperation {
	op := &CopyRecoveryOperation{BaseOperation: NewBaseOperation(id, "copy_recovery", params, env)}
	op.SetDescriptionDetail("files", params.Strings("files"))
	return op
}

// Execute mounts the recovery device, copies the files and leaves the marker.
func (op *CopyRecoveryOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	logger := op.Logger(execCtx)
	device := ResolveDevice(env, op.Params())
	mountpoint := env.Paths.RecoveryMount

	if !env.Exists(device) {
		return core.PreconditionError("device %s is not available", device)
	}
	if err := env.FS.MkdirAll(mountpoint, 0o755); err != nil {
		return &core.OperationError{Kind: core.KindPrecondition, Message: "could not create recovery partition mountpoint", Cause: err}
	}
	if err := mount(ctx, env, device, mountpoint); err != nil {
		return err
	}

	if err := op.copyFiles(mountpoint, logger); err != nil {
		unmount(ctx, env, logger, mountpoint, false)
		return err
	}

	marker := path.Join(mountpoint, PartialFlashMarker)
	if err := env.FS.WriteFile(marker, []byte(partialFlashContent), 0o644); err != nil {
		logger.Warn().Str("path", marker).Err(err).Msg("could not create partial flash marker, recovery will wipe everything")
	}

	unmount(ctx, env, logger, mountpoint, false)
	env.Flush()
	return nil
}

func (op *CopyRecoveryOperation) copyFiles(mountpoint string, logger core.Logger) error {
	env := op.Env()
	for _, name := range op.Params().Strings("files") {
		src := path.Join(env.Paths.BootMedium, name)
		dst := path.Join(mountpoint, name)

		data, err := env.FS.ReadFile(src)
		if err != nil {
			return &core.OperationError{Kind: core.KindPrecondition, Message: "could not read " + src, Cause: err}
		}
		if dir := path.Dir(dst); dir != mountpoint {
			if err := env.FS.MkdirAll(dir, 0o755); err != nil {
				return &core.OperationError{Kind: core.KindToolExecution, Message: "could not create " + dir, Cause: err}
			}
		}
		if err := env.FS.WriteFile(dst, data, 0o644); err != nil {
			return &core.OperationError{Kind: core.KindToolExecution, Message: "could not copy " + src + " to recovery partition", Cause: err}
		}
		logger.Debug().Str("source", src).Str("destination", dst).Msg("copied")
	}
	return nil
}
