package operations

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/filesystem"
)

// eraseFrame is one pending step of an EraseTree walk: the directory reached
// so far and the path segments still to resolve below it.
type eraseFrame struct {
	dir      string
	segments []string
}

// EraseTree removes the directories matched by relative below base.
// Segments may hold glob patterns (path.Match syntax); a pattern segment only
// matches directories. It returns the removed paths in walk order.
func EraseTree(fsys filesystem.FileSystem, base, relative string, logger core.Logger) ([]string, error) {
	logger = core.OrNop(logger)
	segments := splitSegments(relative)
	if len(segments) == 0 {
		return nil, nil
	}
	for _, seg := range segments {
		if _, err := path.Match(seg, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", seg, err)
		}
	}

	var removed []string
	stack := []eraseFrame{{dir: base, segments: segments}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		matches := matchDirs(fsys, frame.dir, frame.segments[0], logger)
		if len(frame.segments) == 1 {
			for _, m := range matches {
				if err := fsys.RemoveAll(m); err != nil {
					logger.Warn().Str("path", m).Err(err).Msg("cannot remove directory")
					continue
				}
				removed = append(removed, m)
			}
			continue
		}
		// push in reverse so matches are visited in directory order
		for i := len(matches) - 1; i >= 0; i-- {
			stack = append(stack, eraseFrame{dir: matches[i], segments: frame.segments[1:]})
		}
	}
	return removed, nil
}

func matchDirs(fsys filesystem.FileSystem, dir, segment string, logger core.Logger) []string {
	if !hasMeta(segment) {
		candidate := path.Join(dir, segment)
		info, err := fsys.Stat(candidate)
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			logger.Warn().Str("path", candidate).Msg("not a directory, skipping")
			return nil
		}
		return []string{candidate}
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		logger.Warn().Str("path", dir).Err(err).Msg("cannot list directory")
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ok, _ := path.Match(segment, e.Name()); ok {
			out = append(out, path.Join(dir, e.Name()))
		}
	}
	return out
}

// EraseContents removes every entry below dir while keeping dir itself.
func EraseContents(fsys filesystem.FileSystem, dir string, logger core.Logger) error {
	logger = core.OrNop(logger)
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := path.Join(dir, e.Name())
		if err := fsys.RemoveAll(p); err != nil {
			logger.Warn().Str("path", p).Err(err).Msg("cannot remove entry")
		}
	}
	return nil
}

func splitSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, `*?[\`)
}

// EraseDirectoryOperation mounts a filesystem and wipes part or all of it.
type EraseDirectoryOperation struct {
	*BaseOperation
}

// NewEraseDirectoryOperation creates an erase_directory operation.
func NewEraseDirectoryOperation(id core.OperationID, params Params, env *Env) *EraseDirectoryOperation {
	op := &EraseDirectoryOperation{BaseOperation: NewBaseOperation(id, "erase_directory", params, env)}
	op.SetDescriptionDetail("relative_path", params.String("relative_path"))
	return op
}

// Execute mounts the device on a temporary directory, erases and unmounts it.
func (op *EraseDirectoryOperation) Execute(ctx context.Context, execCtx *core.ExecutionContext) error {
	env := op.Env()
	logger := op.Logger(execCtx)

	mountpoint, err := env.FS.MkdirTemp(env.Paths.TempDir, "erasedirectory-*")
	if err != nil {
		return &core.OperationError{Kind: core.KindPrecondition, Message: "could not create mountpoint directory", Cause: err}
	}
	defer func() { _ = env.FS.Remove(mountpoint) }()

	device := ResolveDevice(env, op.Params())
	if !env.Exists(device) {
		logger.Warn().Str("device", device).Dur("wait", env.DeviceWait).Msg("device not present yet, waiting")
		if err := env.Wait(ctx, env.DeviceWait); err != nil {
			return err
		}
	}

	logger.Info().Str("device", device).Str("mountpoint", mountpoint).Msg("mounting for erase")
	if err := mount(ctx, env, device, mountpoint); err != nil {
		return err
	}

	var eraseErr error
	if relative := op.Params().String("relative_path"); relative != "" {
		var removed []string
		removed, eraseErr = EraseTree(env.FS, mountpoint, relative, logger)
		logger.Info().Strs("removed", removed).Msg("erased directories")
		if eraseErr != nil {
			eraseErr = &core.OperationError{Kind: core.KindConfiguration, Message: "invalid relative_path", Cause: eraseErr}
		}
	} else if err := EraseContents(env.FS, mountpoint, logger); err != nil {
		logger.Warn().Str("mountpoint", mountpoint).Err(err).Msg("cannot list mounted filesystem")
	}

	unmount(ctx, env, logger, mountpoint, true)
	env.Flush()
	return eraseErr
}
