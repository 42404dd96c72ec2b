package operations

import (
	"context"
	"strconv"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
)

// FlashEraseOperation erases a range of NAND erase blocks.
type FlashEraseOperation struct {
	*BaseOperation
}

// NewFlashEraseOperation creates a flash_erase operation. Parameters:
// target, start, count and jffs2.
func NewFlashEraseOperation(id core.OperationID, params Params, env *Env) *FlashEraseOperation {
	op := &FlashEraseOperation{BaseOperation: NewBaseOperation(id, "flash_erase", params, env)}
	op.SetDescriptionDetail("start", params.String("start"))
	op.SetDescriptionDetail("count", params.String("count"))
	return op
}

// Command returns the flash_erase invocation.
func (op *FlashEraseOperation) Command() (proc.Command, error) {
	p := op.Params()
	count, err := p.Int("count", 0)
	if err != nil {
		return proc.Command{}, &core.OperationError{Kind: core.KindConfiguration, Message: "invalid erase block count", Cause: err}
	}
	start := p.String("start")
	if start == "" {
		start = "0"
	}
	var args []string
	if p.Bool("jffs2", false) {
		args = append(args, "--jffs2")
	}
	args = append(args, p.String("target"), start, strconv.FormatInt(count, 10))
	return proc.Command{Path: op.Env().Tools.FlashErase, Args: args}, nil
}

// Execute erases the flash.
func (op *FlashEraseOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	cmd, err := op.Command()
	if err != nil {
		return err
	}
	if device := op.Params().String("target"); !env.Exists(device) {
		return core.PreconditionError("MTD device %s does not exist", device)
	}
	op.Logger(execCtx).Info().Strs("args", cmd.Args).Msg("erasing flash")
	if _, err := env.RunTool(ctx, cmd, "failed to erase flash"); err != nil {
		return err
	}
	env.Flush()
	return nil
}

// NandWriteOperation writes an image to NAND, padding it to the page size.
type NandWriteOperation struct {
	*BaseOperation
}

// NewNandWriteOperation creates a nandwrite operation.
func NewNandWriteOperation(id core.OperationID, params Params, env *Env) *NandWriteOperation {
	op := &NandWriteOperation{BaseOperation: NewBaseOperation(id, "nandwrite", params, env)}
	op.SetDescriptionDetail("source", params.String("source"))
	return op
}

// Command returns the nandwrite invocation.
func (op *NandWriteOperation) Command() proc.Command {
	p := op.Params()
	args := []string{"-p", p.String("target")}
	if start := p.String("start"); start != "" {
		args = append(args, "-s", start)
	}
	args = append(args, p.String("source"))
	return proc.Command{Path: op.Env().Tools.Nandwrite, Args: args}
}

// Execute writes the image.
func (op *NandWriteOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	image, device := op.Params().String("source"), op.Params().String("target")
	if !env.Exists(image) {
		return core.PreconditionError("image file %s does not exist", image)
	}
	if !env.Exists(device) {
		return core.PreconditionError("NAND device %s does not exist", device)
	}
	op.Logger(execCtx).Info().Str("image", image).Str("device", device).Msg("writing NAND image")
	if _, err := env.RunTool(ctx, op.Command(), "failed to write NAND image"); err != nil {
		return err
	}
	env.Flush()
	return nil
}

// FlashKobsOperation writes the first-level bootloader with kobs-ng.
type FlashKobsOperation struct {
	*BaseOperation
}

// NewFlashKobsOperation creates a flash_kobs operation.
func NewFlashKobsOperation(id core.OperationID, params Params, env *Env) *FlashKobsOperation {
	op := &FlashKobsOperation{BaseOperation: NewBaseOperation(id, "flash_kobs", params, env)}
	op.SetDescriptionDetail("source", params.String("source"))
	return op
}

// Command returns the kobs-ng invocation; kobs-ng writes scratch files to
// its working directory.
func (op *FlashKobsOperation) Command() (proc.Command, error) {
	exponent, err := op.Params().Int("search_exponent", 2)
	if err != nil {
		return proc.Command{}, &core.OperationError{Kind: core.KindConfiguration, Message: "invalid search_exponent", Cause: err}
	}
	return proc.Command{
		Path: op.Env().Tools.KobsNG,
		Args: []string{"init", "-x", op.Params().String("source"), "--search_exponent=" + strconv.FormatInt(exponent, 10), "-v"},
		Dir:  op.Env().Paths.TempDir,
	}, nil
}

// Execute writes the bootloader.
func (op *FlashKobsOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	image, device := op.Params().String("source"), op.Params().String("target")
	if !env.Exists(image) {
		return core.PreconditionError("binary file %s does not exist", image)
	}
	if !env.Exists(device) {
		return core.PreconditionError("NAND device %s does not exist", device)
	}
	cmd, err := op.Command()
	if err != nil {
		return err
	}
	op.Logger(execCtx).Info().Str("image", image).Msg("writing first-level bootloader")
	if _, err := env.RunTool(ctx, cmd, "failed to flash kobs image"); err != nil {
		return err
	}
	env.Flush()
	return nil
}

// UbiformatOperation formats an MTD device for UBI, optionally flashing an image.
type UbiformatOperation struct {
	*BaseOperation
}

// NewUbiformatOperation creates a ubiformat operation.
func NewUbiformatOperation(id core.OperationID, params Params, env *Env) *UbiformatOperation {
	op := &UbiformatOperation{BaseOperation: NewBaseOperation(id, "ubiformat", params, env)}
	op.SetDescriptionDetail("source", params.String("source"))
	return op
}

// Command returns the ubiformat invocation.
func (op *UbiformatOperation) Command() (proc.Command, error) {
	p := op.Params()
	subpage, err := p.Int("subpage_size", -1)
	if err != nil {
		return proc.Command{}, &core.OperationError{Kind: core.KindConfiguration, Message: "invalid subpage_size", Cause: err}
	}
	args := []string{p.String("target")}
	if image := p.String("source"); image != "" {
		args = append(args, "-f", image)
	}
	if subpage > 0 {
		args = append(args, "-s", strconv.FormatInt(subpage, 10))
	}
	args = append(args, "-y")
	return proc.Command{Path: op.Env().Tools.Ubiformat, Args: args}, nil
}

// Execute formats the device.
func (op *UbiformatOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	image, device := op.Params().String("source"), op.Params().String("target")
	if image != "" && !env.Exists(image) {
		return core.PreconditionError("image file %s does not exist", image)
	}
	if !env.Exists(device) {
		return core.PreconditionError("MTD device %s does not exist", device)
	}
	cmd, err := op.Command()
	if err != nil {
		return err
	}
	op.Logger(execCtx).Info().Str("device", device).Str("image", image).Msg("formatting NAND")
	if _, err := env.RunTool(ctx, cmd, "failed to format NAND"); err != nil {
		return err
	}
	env.Flush()
	return nil
}
