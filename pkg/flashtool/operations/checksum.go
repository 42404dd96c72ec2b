package operations

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/filesystem"
)

// FileSHA256 returns the hex SHA-256 digest of name.
func FileSHA256(fsys filesystem.ReadFS, name string) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumOperation verifies an image against its expected SHA-256 digest.
type ChecksumOperation struct {
	*BaseOperation
}

// NewChecksumOperation creates a checksum operation. Parameters: file, checksum.
func NewChecksumOperation(id core.OperationID, params Params, env *Env) *ChecksumOperation {
	op := &ChecksumOperation{BaseOperation: NewBaseOperation(id, "checksum", params, env)}
	op.description.Path = params.String("file")
	op.SetDescriptionDetail("checksum", params.String("checksum"))
	return op
}

// Execute hashes the file and compares the digests case-insensitively.
func (op *ChecksumOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	file := op.Params().String("file")
	expected := strings.TrimSpace(op.Params().String("checksum"))
	if expected == "" {
		return core.ConfigurationError("no checksum given for %s", file)
	}

	actual, err := FileSHA256(op.Env().FS, file)
	if err != nil {
		return &core.OperationError{Kind: core.KindPrecondition, Message: "could not read " + file, Cause: err}
	}
	if !strings.EqualFold(actual, expected) {
		op.Logger(execCtx).Warn().
			Str("file", file).
			Str("expected", expected).
			Str("actual", actual).
			Msg("checksum mismatch")
		return core.VerificationError("checksum of %s does not match", file)
	}
	return nil
}
