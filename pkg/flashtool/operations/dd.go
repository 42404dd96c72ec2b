package operations

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
)

const ddBlockSize = "bs=8192"

// DDOperation copies a raw image onto a block device, decompressing .bz2
// images through bunzip2 and .xz images in-process.
type DDOperation struct {
	*BaseOperation
}

// NewDDOperation creates a dd operation.
func NewDDOperation(id core.OperationID, params Params, env *Env) *DDOperation {
	op := &DDOperation{BaseOperation: NewBaseOperation(id, "dd", params, env)}
	op.SetDescriptionDetail("source", params.String("source"))
	return op
}

// Execute writes the image and waits for the device to settle.
func (op *DDOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	device := ResolveDevice(env, op.Params())
	image := op.Params().String("source")

	if !env.Exists(image) {
		return core.PreconditionError("image file %s does not exist", image)
	}
	if !env.Exists(device) {
		return core.PreconditionError("block device %s does not exist", device)
	}

	op.Logger(execCtx).Info().Str("image", image).Str("device", device).Msg("writing image")

	var err error
	switch {
	case strings.HasSuffix(image, "bz2"):
		err = op.writeBzip2(ctx, image, device)
	case strings.HasSuffix(image, ".xz"):
		err = op.writeXZ(ctx, image, device)
	default:
		_, err = env.RunTool(ctx, proc.Command{
			Path: env.Tools.DD,
			Args: []string{"if=" + image, "of=" + device, ddBlockSize},
		}, "failed to flash image")
	}
	if err != nil {
		return err
	}

	env.Flush()
	return env.Wait(ctx, env.Settle)
}

func (op *DDOperation) writeBzip2(ctx context.Context, image, device string) error {
	env := op.Env()
	unzip := proc.Command{Path: env.Tools.Bunzip2, Args: []string{"-c", image}}
	dd := proc.Command{Path: env.Tools.DD, Args: []string{"of=" + device, ddBlockSize}}

	unzipRes, ddRes, err := env.Runner.Pipe(ctx, unzip, dd)
	if err != nil {
		return &core.OperationError{Kind: core.KindPrecondition, Message: "cannot launch decompression pipeline", Cause: err}
	}
	if !unzipRes.Success() {
		return core.ToolError(unzipRes.Output(), "failed to decompress image")
	}
	if !ddRes.Success() {
		return core.ToolError(ddRes.Output(), "failed to flash image")
	}
	return nil
}

func (op *DDOperation) writeXZ(ctx context.Context, image, device string) error {
	env := op.Env()
	f, err := env.FS.Open(image)
	if err != nil {
		return &core.OperationError{Kind: core.KindPrecondition, Message: "cannot open image " + image, Cause: err}
	}
	defer func() { _ = f.Close() }()

	zr, err := xz.NewReader(f)
	if err != nil {
		return &core.OperationError{Kind: core.KindToolExecution, Message: "failed to decompress image", Cause: err}
	}
	src := &trackingReader{r: zr}

	res, err := env.Runner.Run(ctx, proc.Command{
		Path:  env.Tools.DD,
		Args:  []string{"of=" + device, ddBlockSize},
		Stdin: src,
	})
	if src.err != nil {
		return &core.OperationError{Kind: core.KindToolExecution, Message: "failed to decompress image", Cause: src.err}
	}
	if err != nil {
		return &core.OperationError{Kind: core.KindPrecondition, Message: "cannot launch " + env.Tools.DD, Cause: err}
	}
	if !res.Success() {
		return core.ToolError(res.Output(), "failed to flash image")
	}
	return nil
}

// trackingReader remembers the first read error other than EOF.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
